package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-replay/internal/api"
	"github.com/miradorstack/mirador-replay/internal/models"
)

// Sends random particle-cloud batches to a local replay server. Every failEvery-th call
// carries a mask whose batch disagrees with the points so the server captures a failure.
func main() {
	target := flag.String("target", "localhost:8001", "inference server address")
	model := flag.String("model", "particlenet_AK4_PT", "model name")
	count := flag.Int("count", 20, "number of requests, 0 for unbounded")
	interval := flag.Duration("interval", 500*time.Millisecond, "delay between requests")
	failEvery := flag.Int("fail-every", 5, "send a malformed batch every n requests, 0 to disable")
	maxMessageBytes := flag.Int("max-message-bytes", 64<<20, "per-call message size limit")
	flag.Parse()

	logger := log.New(log.Writer(), "load-client ", log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	client, err := api.Dial(dialCtx, *target, api.WithMaxMessageBytes(*maxMessageBytes))
	cancel()
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer client.Close()

	sig, err := client.ModelSignature(ctx, *model)
	if err != nil {
		logger.Fatalf("model config: %v", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for i := 1; *count == 0 || i <= *count; i++ {
		malformed := *failEvery > 0 && i%*failEvery == 0
		inputs, err := buildInputs(rng, sig, malformed)
		if err != nil {
			logger.Fatalf("build inputs: %v", err)
		}

		id := uuid.NewString()
		start := time.Now()
		_, err = client.Infer(ctx, sig.Name, inputs, sig.OutputNames(), id)
		if err != nil {
			logger.Printf("%s %s failed %s: %v", sig.Name, id, time.Since(start), err)
		} else {
			logger.Printf("%s %s ok %s", sig.Name, id, time.Since(start))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// buildInputs fills every declared input with random data, substituting a random batch
// size for wildcard dims.
func buildInputs(rng *rand.Rand, sig models.ModelSignature, malformed bool) ([]*api.InferInput, error) {
	batch := int64(1 + rng.Intn(4))
	inputs := make([]*api.InferInput, 0, len(sig.Inputs))
	for i, spec := range sig.Inputs {
		shape := make([]int64, len(spec.Dims))
		for j, d := range spec.Dims {
			if d < 0 {
				d = batch
				if malformed && i == len(sig.Inputs)-1 && j == 0 {
					d = batch + 1
				}
			}
			shape[j] = d
		}

		et, err := api.ToElementType(spec.DataType)
		if err != nil {
			return nil, err
		}
		t := models.Tensor{ElementType: et, Shape: shape}
		t.Data = make([]byte, t.NumElements()*int64(et.Size()))
		rng.Read(t.Data)
		if et == models.Float32 {
			values := make([]float32, t.NumElements())
			for k := range values {
				values[k] = rng.Float32()
			}
			if t, err = models.NewFloat32Tensor(shape, values); err != nil {
				return nil, err
			}
		}

		in := api.NewInferInput(spec.Name, shape, spec.DataType)
		if err := in.SetData(t.Data); err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
