package writer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchwatch/config"
	"launchwatch/internal/events"
	"launchwatch/internal/models"
	"launchwatch/logger"
)

type fakeKafka struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	err      error
	attempts int
	closed   bool
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeKafka) attempted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeKafka) written() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}

type fakePutter struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	bodies [][]byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func sampleRecord() models.AnnouncementRecord {
	return models.AnnouncementRecord{
		ID:          7,
		IdentityKey: "0xabc::pepe::PEPE",
		DisplayName: "Pepe",
		AnnouncedAt: time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC),
	}
}

func TestKafkaPublisherForwardsNewTokens(t *testing.T) {
	bus := events.NewBus(nil)
	w := &fakeKafka{}
	p := newKafkaPublisher(w, logger.Logger())
	require.NoError(t, p.Start(context.Background(), bus))
	require.Error(t, p.Start(context.Background(), bus), "second start should fail")

	bus.Publish(events.New(events.TypeStatsUpdate, models.MonitorStats{}))
	bus.Publish(events.New(events.TypeNewToken, sampleRecord()))

	require.Eventually(t, func() bool { return len(w.written()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
	assert.True(t, w.closed)

	msg := w.written()[0]
	assert.Equal(t, "0xabc::pepe::PEPE", string(msg.Key))
	var env announcementEnvelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, events.TypeNewToken, env.Type)
	assert.Equal(t, "Pepe", env.Announcement.DisplayName)
	assert.NotEmpty(t, env.EventID)
}

func TestKafkaPublisherSurvivesWriteErrors(t *testing.T) {
	bus := events.NewBus(nil)
	w := &fakeKafka{err: errors.New("broker down")}
	p := newKafkaPublisher(w, logger.Logger())
	require.NoError(t, p.Start(context.Background(), bus))

	bus.Publish(events.New(events.TypeNewToken, sampleRecord()))
	require.Eventually(t, func() bool { return w.attempted() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, w.written())

	bus.Publish(events.New(events.TypeNewToken, "not a record"))
	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()
	bus.Publish(events.New(events.TypeNewToken, sampleRecord()))

	require.Eventually(t, func() bool { return len(w.written()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
	assert.Equal(t, 2, w.attempted(), "malformed event is skipped without a write")
}

func TestNewKafkaPublisherValidatesConfig(t *testing.T) {
	_, err := NewKafkaPublisher(config.KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)
	_, err = NewKafkaPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	p, err := NewKafkaPublisher(config.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "launches"}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.writer.Close())
}

func TestS3ArchiverWritesPartitionedObjects(t *testing.T) {
	bus := events.NewBus(nil)
	putter := &fakePutter{}
	a := newS3Archiver(putter, "launch-archive", "/announcements/", "1.2.3", logger.Logger())
	require.NoError(t, a.Start(context.Background(), bus))

	bus.Publish(events.New(events.TypeNewToken, sampleRecord()))
	require.Eventually(t, func() bool { return putter.count() == 1 }, time.Second, 5*time.Millisecond)
	a.Stop()

	in := putter.inputs[0]
	assert.Equal(t, "launch-archive", aws.ToString(in.Bucket))
	assert.Equal(t, "announcements/date=2024-03-09/20240309T140506_0xabc-pepe-PEPE.json", aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, "1.2.3", in.Metadata["launchwatch-version"])

	var env announcementEnvelope
	require.NoError(t, json.Unmarshal(putter.bodies[0], &env))
	assert.Equal(t, int64(7), env.Announcement.ID)
}

func TestS3ObjectKeyFallsBackToEventTime(t *testing.T) {
	a := newS3Archiver(&fakePutter{}, "b", "", "dev", logger.Logger())
	env := announcementEnvelope{
		Timestamp:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Announcement: models.AnnouncementRecord{IdentityKey: "0x1::a b::C/D"},
	}
	assert.Equal(t, "date=2025-01-02/20250102T030405_0x1-a_b-C-D.json", a.objectKey(env))
}

func TestNormalizeBucketName(t *testing.T) {
	got, err := normalizeBucketName("  launch-archive  ")
	require.NoError(t, err)
	assert.Equal(t, "launch-archive", got)

	_, err = normalizeBucketName("   ")
	assert.Error(t, err)
}

func TestSubscriberStopsWhenBusCloses(t *testing.T) {
	bus := events.NewBus(nil)
	a := newS3Archiver(&fakePutter{}, "b", "", "dev", logger.Logger())
	require.NoError(t, a.Start(context.Background(), bus))
	bus.Close()

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("archiver did not stop after bus close")
	}
}
