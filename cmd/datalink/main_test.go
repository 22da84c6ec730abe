package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcdatalink/datalink/internal/connector"
)

func TestReportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"config error", errors.New("failed to load configuration"), "Error: failed to load configuration\n"},
		{"terminal status", &connector.StatusError{Code: "001", Text: "Invalid license"}, ""},
		{"wrapped terminal", fmt.Errorf("link: %w", connector.ErrAuthTimeout), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			reportError(&out, tt.err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}
