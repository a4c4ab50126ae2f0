package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchedulable(t *testing.T) {
	tests := []struct {
		name string
		p    Pipeline
		want bool
	}{
		{"enabled with cron", Pipeline{State: StateEnabled, Cron: "0 * * * *"}, true},
		{"enabled manual only", Pipeline{State: StateEnabled}, false},
		{"enabled blank cron", Pipeline{State: StateEnabled, Cron: "   "}, false},
		{"disabled with cron", Pipeline{State: StateDisabled, Cron: "0 * * * *"}, false},
		{"deleted with cron", Pipeline{State: StateDeleted, Cron: "0 * * * *"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Schedulable())
		})
	}
}
