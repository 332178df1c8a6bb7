// Command ratchet-worker runs a long-lived workflow worker against S3 state
// and an SQS nudge queue. Programs and activities are compiled in; the demo
// wiring registers the example counter workflow, replace it with your own.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"goa.design/clue/log"
	"golang.org/x/time/rate"

	blobs3 "goa.design/ratchet/blob/s3"
	clients3 "goa.design/ratchet/blob/s3/clients/s3"
	"goa.design/ratchet/config"
	"goa.design/ratchet/engine"
	"goa.design/ratchet/example"
	queuesqs "goa.design/ratchet/queue/sqs"
	clientsqs "goa.design/ratchet/queue/sqs/clients/sqs"
	"goa.design/ratchet/runner"
	"goa.design/ratchet/telemetry"
	"goa.design/ratchet/workflow"
)

func main() {
	var (
		configF = flag.String("config", "", "Optional YAML config file overlaying the environment")
		workerF = flag.String("worker-id", "", "Worker id used in lease ownership (defaults to a generated id)")
		rpsF    = flag.Float64("max-rps", 0, "Maximum nudges processed per second (0 disables limiting)")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	var (
		cfg config.Config
		err error
	)
	if *configF != "" {
		cfg, err = config.LoadFile(*configF)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatal(ctx, err)
	}
	if err := cfg.RequireQueue(); err != nil {
		log.Fatal(ctx, err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal(ctx, err)
	}

	s3Client, err := clients3.New(clients3.Options{
		API:    awss3.NewFromConfig(awsCfg),
		Bucket: cfg.StateBucket,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	store, err := blobs3.New(blobs3.Options{Client: s3Client})
	if err != nil {
		log.Fatal(ctx, err)
	}

	sqsClient, err := clientsqs.New(clientsqs.Options{
		API:      awssqs.NewFromConfig(awsCfg),
		QueueURL: cfg.QueueURL,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	q, err := queuesqs.New(sqsClient)
	if err != nil {
		log.Fatal(ctx, err)
	}

	deciders := workflow.NewRegistry()
	activities := runner.NewActivities()
	if err := example.Register(deciders, activities); err != nil {
		log.Fatal(ctx, err)
	}

	eng, err := engine.New(engine.Options{
		Store:    store,
		Deciders: deciders,
		Prefix:   cfg.StatePrefix,
		Logger:   telemetry.NewClueLogger(),
		Metrics:  telemetry.NewClueMetrics(),
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	var limiter *rate.Limiter
	if *rpsF > 0 {
		limiter = rate.NewLimiter(rate.Limit(*rpsF), 1)
	}
	r, err := runner.New(runner.Options{
		Engine:     eng,
		Activities: activities,
		Queue:      q,
		WorkerID:   *workerF,
		Limiter:    limiter,
		Logger:     telemetry.NewClueLogger(),
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	// Surface backend connectivity before consuming work.
	for _, pinger := range []interface {
		Name() string
		Ping(context.Context) error
	}{s3Client, sqsClient} {
		if err := pinger.Ping(ctx); err != nil {
			log.Fatal(ctx, err, log.KV{K: "backend", V: pinger.Name()})
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Print(ctx,
		log.KV{K: "msg", V: "worker started"},
		log.KV{K: "worker_id", V: r.WorkerID()},
		log.KV{K: "bucket", V: cfg.StateBucket},
		log.KV{K: "prefix", V: cfg.StatePrefix},
	)

	err = r.Work(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(ctx, err)
	}
	log.Print(ctx, log.KV{K: "msg", V: "worker stopped"})
	os.Exit(0)
}
