package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gearlog/ticket-service/internal/service"
)

func TestSystemClock_ReturnsUTC(t *testing.T) {
	before := time.Now()
	now := service.SystemClock.Now()

	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, before, now, time.Second)
}
