package mortar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_createConfigurators(t *testing.T) {
	tt := []struct {
		name                  string
		preview               bool
		expectedConfigurators int
	}{
		{
			name:                  "zero values",
			expectedConfigurators: 0,
		},
		{
			name:                  "preview",
			preview:               true,
			expectedConfigurators: 1,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			configurators := CreateConfigurators(tc.preview)
			assert.Len(t, configurators, tc.expectedConfigurators)

			a := newAction(configurators...)
			assert.Equal(t, tc.preview, a.preview)
		})
	}
}
