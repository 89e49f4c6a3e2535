package kafkaconsumer

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// SRS, when set, drops tile events in any other reference system.
	SRS          string
	ApplyTimeout time.Duration
	DedupeSize   int
}

func FromEnv() Config {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "tile-invalidation"
	}
	group := os.Getenv("KAFKA_GROUP_ID")
	if group == "" {
		group = "lodstream"
	}
	dedupe := 4096
	if v, err := strconv.Atoi(os.Getenv("KAFKA_DEDUPE_SIZE")); err == nil && v > 0 {
		dedupe = v
	}

	return Config{
		Brokers:             splitCSV(brokers),
		Topic:               topic,
		GroupID:             group,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: false,
		ApplyTimeout:        10 * time.Second,
		DedupeSize:          dedupe,
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
