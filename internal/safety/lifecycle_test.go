package safety

import (
	"testing"

	"TrailSafe/internal/models"
	"TrailSafe/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestTransitionAlert(t *testing.T) {
	allowed := []struct {
		from, to models.AlertState
	}{
		{models.StateGracePeriod, models.StateFalseAlarm},
		{models.StateGracePeriod, models.StateStealth},
		{models.StateGracePeriod, models.StateEscalated},
		{models.StateGracePeriod, models.StateManuallyResolved},
		{models.StateStealth, models.StateManuallyResolved},
	}
	for _, c := range allowed {
		alert := &models.SafetyAlert{State: c.from}
		assert.NoError(t, transitionAlert(alert, c.to), "%s -> %s", c.from, c.to)
		assert.Equal(t, c.to, alert.State)
	}

	denied := []struct {
		from, to models.AlertState
	}{
		{models.StateStealth, models.StateFalseAlarm},
		{models.StateStealth, models.StateEscalated},
		{models.StateFalseAlarm, models.StateGracePeriod},
		{models.StateEscalated, models.StateManuallyResolved},
		{models.StateManuallyResolved, models.StateEscalated},
		{models.StateGracePeriod, models.StateGracePeriod},
	}
	for _, c := range denied {
		alert := &models.SafetyAlert{State: c.from}
		err := transitionAlert(alert, c.to)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidState), "%s -> %s", c.from, c.to)
		assert.Equal(t, c.from, alert.State, "state unchanged on rejection")
	}
}
