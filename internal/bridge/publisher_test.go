package bridge

import (
	"testing"
	"time"

	"github.com/prudhvinik1/liverelay/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "liverelay.changes.event", Subject(&models.ChangeEvent{
		EntityKind: models.KindPrimary,
	}))
	assert.Equal(t, "liverelay.changes.participant", Subject(&models.ChangeEvent{
		EntityKind: models.KindDependent,
	}))
	assert.Equal(t, "liverelay.changes.event", Subject(models.NewResyncEvent(models.KindPrimary, time.Now())))
}
