package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeproof/internal/domain"
)

func TestParseBusy(t *testing.T) {
	got, err := parseBusy([]string{"3=09:00-17:00:work", "1=07:00-08:00", "3=19:00-20:00"})
	require.NoError(t, err)
	assert.Equal(t, []domain.DaySchedule{
		{Day: 1, Slots: []domain.TimeSlot{{Start: "07:00", End: "08:00"}}},
		{Day: 3, Slots: []domain.TimeSlot{
			{Start: "09:00", End: "17:00", Activity: "work"},
			{Start: "19:00", End: "20:00"},
		}},
	}, got)
}

func TestParseBusyRejectsMalformed(t *testing.T) {
	for _, in := range []string{"09:00-10:00", "7=09:00-10:00", "x=09:00-10:00", "2=09:00"} {
		_, err := parseBusy([]string{in})
		assert.Error(t, err, in)
	}
}
