package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "benchy.gcode", "benchy.gcode"},
		{"strips directories", "../../etc/passwd", "passwd"},
		{"windows separators", `prints\calicat.gcode`, "calicat.gcode"},
		{"unsafe characters", "my print (v2)!.gcode", "my_print__v2__.gcode"},
		{"dot only", ".", "upload.gcode"},
		{"dot dot", "..", "upload.gcode"},
		{"empty", "", "upload.gcode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, SanitizeFilename(tc.in))
		})
	}
}
