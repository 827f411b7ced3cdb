package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdminAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "9000", want: "127.0.0.1:9000"},
		{in: ":9000", want: ":9000"},
		{in: "0.0.0.0:9000", want: "0.0.0.0:9000"},
		{in: "[::1]:9000", want: "[::1]:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, adminAddress(tt.in))
		})
	}
}
