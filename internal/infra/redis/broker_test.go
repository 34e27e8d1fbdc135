package redis

import (
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/jack139/internvl-backend/internal/domain"
)

func TestEventFromRedis(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		kind    domain.BrokerEventKind
		channel string
		payload string
	}{
		{
			name:    "data message",
			raw:     &goredis.Message{Channel: "q1", Payload: `{"request_id":"r1"}`},
			kind:    domain.BrokerEventData,
			channel: "q1",
			payload: `{"request_id":"r1"}`,
		},
		{
			name:    "subscribe ack is control",
			raw:     &goredis.Subscription{Kind: "subscribe", Channel: "q1", Count: 1},
			kind:    domain.BrokerEventControl,
			channel: "q1",
		},
		{
			name: "pong is control",
			raw:  &goredis.Pong{},
			kind: domain.BrokerEventControl,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := eventFromRedis(tt.raw)
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, tt.channel, ev.Channel)
			assert.Equal(t, tt.payload, string(ev.Payload))
		})
	}
}
