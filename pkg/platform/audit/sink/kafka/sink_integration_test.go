//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	id "portal/pkg/domain"
	audit "portal/pkg/platform/audit"
	"portal/pkg/platform/audit/sink/kafka"
	"portal/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaSinkSuite) TestAppendProducesKeyedRecord() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "audit-" + id.NewUserID().String()
	sink, err := kafka.New(kafka.Config{Brokers: []string{s.redpanda.Broker}, Topic: topic})
	s.Require().NoError(err)
	defer sink.Close()
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1), "second call tolerates an existing topic")

	userID := id.NewUserID()
	s.Require().NoError(sink.Append(ctx, audit.Event{
		Category:  audit.CategorySecurity,
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Action:    string(audit.EventPasswordChanged),
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().Len(records, 1)
	s.Equal(userID.String(), string(records[0].Key))

	var got audit.Event
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal(userID, got.UserID)
	s.Equal(string(audit.EventPasswordChanged), got.Action)
}
