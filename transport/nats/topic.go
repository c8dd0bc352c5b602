package nats

import (
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/ragblade"
)

const (
	TopicIngest   = "ingest"
	TopicSearch   = "search"
	TopicAnswer   = "answer"
	TopicDescribe = "describe"
	TopicDrop     = "drop"
)

func AddEndpoints(group micro.Group, endpoints *ragblade.EndpointSet) error {
	handlers := []struct {
		topic   string
		handler micro.HandlerFunc
	}{
		{TopicIngest, IngestHandler(endpoints.Ingest)},
		{TopicSearch, SearchHandler(endpoints.Search)},
		{TopicAnswer, AnswerHandler(endpoints.Answer)},
		{TopicDescribe, DescribeHandler(endpoints.Describe)},
		{TopicDrop, DropHandler(endpoints.Drop)},
	}

	for _, h := range handlers {
		if err := group.AddEndpoint(h.topic, h.handler); err != nil {
			return err
		}
	}

	return nil
}
