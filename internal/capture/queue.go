package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// Stream layout for the capture queue. WorkQueue retention removes each
// message once the worker acks or terms it, so stream depth equals
// queue depth.
const (
	streamName  = "CAPTURE"
	subjectJobs = "capture.jobs"
	durableName = "capture-worker"

	// dedupWindow is how long JetStream remembers published msg ids;
	// repeats of the same fingerprint inside it are dropped.
	dedupWindow = 24 * time.Hour

	// ackWait must outlast one full summarization, LLM call included,
	// or the job would be redelivered mid-flight.
	ackWait = 10 * time.Minute

	serverStartTimeout = 10 * time.Second
)

// Job is one queued summarization unit.
type Job struct {
	SessionID      string    `json:"session_id"`
	TranscriptPath string    `json:"transcript_path"`
	Repository     string    `json:"repository"`
	Fingerprint    string    `json:"fingerprint"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Fingerprint derives the stable dedup key for a session: the first 16
// hex characters of sha256(session_id).
func Fingerprint(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])[:16]
}

// Queue is a durable FIFO job queue on an embedded NATS JetStream
// server. The server runs in-process without a listen socket; its file
// store lives under the data dir, so queued jobs survive restarts.
type Queue struct {
	srv    *server.Server
	nc     *nats.Conn
	js     nats.JetStreamContext
	sub    *nats.Subscription
	logger *logging.Logger
}

// NewQueue starts the embedded server and binds the capture stream and
// the worker's durable pull consumer.
func NewQueue(dataDir string, logger *logging.Logger) (*Queue, error) {
	if dataDir == "" {
		return nil, errs.New(errs.InvalidArgument, "queue data dir is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("capture.queue")

	srv, err := server.NewServer(&server.Options{
		ServerName: "recalld-capture",
		DontListen: true,
		JetStream:  true,
		StoreDir:   filepath.Join(dataDir, "queue"),
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "creating embedded nats server", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(serverStartTimeout) {
		srv.Shutdown()
		return nil, errs.New(errs.Internal, "embedded nats server did not become ready")
	}

	nc, err := nats.Connect("", nats.InProcessServer(srv))
	if err != nil {
		srv.Shutdown()
		return nil, errs.Wrap(errs.Internal, "connecting to embedded nats server", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		srv.Shutdown()
		return nil, errs.Wrap(errs.Internal, "creating jetstream context", err)
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			srv.Shutdown()
			return nil, errs.Wrap(errs.Internal, "inspecting capture stream", err)
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:       streamName,
			Subjects:   []string{subjectJobs},
			Storage:    nats.FileStorage,
			Retention:  nats.WorkQueuePolicy,
			Duplicates: dedupWindow,
		}); err != nil {
			nc.Close()
			srv.Shutdown()
			return nil, errs.Wrap(errs.Internal, "creating capture stream", err)
		}
	}

	sub, err := js.PullSubscribe(subjectJobs, durableName,
		nats.MaxAckPending(1),
		nats.AckWait(ackWait),
	)
	if err != nil {
		nc.Close()
		srv.Shutdown()
		return nil, errs.Wrap(errs.Internal, "binding capture consumer", err)
	}

	return &Queue{srv: srv, nc: nc, js: js, sub: sub, logger: logger}, nil
}

// Enqueue publishes a job with its fingerprint as the message id.
// Repeats inside the dedup window are silently dropped by the stream.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if job.Fingerprint == "" {
		job.Fingerprint = Fingerprint(job.SessionID)
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return errs.Wrap(errs.Internal, "encoding capture job", err)
	}
	ack, err := q.js.Publish(subjectJobs, data, nats.MsgId(job.Fingerprint), nats.Context(ctx))
	if err != nil {
		return errs.Wrap(errs.Unavailable, "enqueueing capture job", err)
	}
	q.logger.Debug(ctx, "capture job enqueued",
		zap.String("session_id", job.SessionID),
		zap.Uint64("sequence", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate))
	return nil
}

// Delivery is a fetched job plus its ack handle.
type Delivery struct {
	Job Job
	msg *nats.Msg
}

// Ack removes the job from the queue.
func (d *Delivery) Ack() error { return d.msg.Ack() }

// Term drops the job without redelivery.
func (d *Delivery) Term() error { return d.msg.Term() }

// Fetch pops the next job, waiting up to wait for one to arrive. An
// empty queue returns nil without error.
func (q *Queue) Fetch(wait time.Duration) (*Delivery, error) {
	msgs, err := q.sub.Fetch(1, nats.MaxWait(wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Unavailable, "fetching capture job", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	msg := msgs[0]
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		// A job that cannot decode would wedge the queue; drop it.
		_ = msg.Term()
		return nil, errs.Wrap(errs.Internal, "decoding capture job", err)
	}
	return &Delivery{Job: job, msg: msg}, nil
}

// Depth returns the number of queued jobs.
func (q *Queue) Depth() (int, error) {
	info, err := q.js.StreamInfo(streamName)
	if err != nil {
		return 0, errs.Wrap(errs.Unavailable, "reading capture stream", err)
	}
	return int(info.State.Msgs), nil
}

// Close closes the client connection and stops the embedded server.
func (q *Queue) Close() error {
	if q.nc != nil {
		q.nc.Close()
	}
	if q.srv != nil {
		q.srv.Shutdown()
		q.srv.WaitForShutdown()
	}
	return nil
}
