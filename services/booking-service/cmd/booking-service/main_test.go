package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
)

func TestBrokerChecks(t *testing.T) {
	assert.Empty(t, brokerChecks(kafkax.SplitBrokers("")))
	assert.Empty(t, brokerChecks(kafkax.SplitBrokers(" , ")))

	checks := brokerChecks(kafkax.SplitBrokers("kafka-1:9092,kafka-2:9092"))
	if assert.Len(t, checks, 1) {
		assert.Equal(t, "kafka", checks[0].Name)
		assert.NotNil(t, checks[0].Check)
	}
}
