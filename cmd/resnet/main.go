// Command resnet trains ResNet-18 on FashionMNIST IDX archives.
//
// Usage:
//
//	resnet -data FashionMNIST/raw -epochs 5 -lr 0.001 -output model.born
//
// A YAML file given with -config is applied first; flags override it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/born-ml/resnet/internal/autodiff"
	"github.com/born-ml/resnet/internal/backend/cpu"
	"github.com/born-ml/resnet/internal/config"
	"github.com/born-ml/resnet/internal/dataset"
	"github.com/born-ml/resnet/internal/nn"
	"github.com/born-ml/resnet/internal/optim"
	"github.com/born-ml/resnet/internal/parallel"
	"github.com/born-ml/resnet/internal/resnet"
	"github.com/born-ml/resnet/internal/train"
)

type backendType = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	dataDir := flag.String("data", "", "Directory containing the IDX archives")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	lr := flag.Float64("lr", 0, "SGD learning rate")
	batchSize := flag.Int("batch", 0, "Batch size for training and evaluation")
	seed := flag.Int64("seed", 0, "Seed for weight init and shuffling (0 = time)")
	pretrained := flag.String("pretrained", "", "Checkpoint to start from")
	output := flag.String("output", "", "Checkpoint to write after training")
	workers := flag.Int("workers", 0, "CPU worker goroutines (0 = physical cores)")
	maxTrain := flag.Int("max-train", 0, "Use only the first N training samples (0 = all)")
	maxTest := flag.Int("max-test", 0, "Use only the first N test samples (0 = all)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("resnet: %v", err)
		}
	}
	cfg.ApplyOverrides(config.Overrides{
		DataDir:         *dataDir,
		Pretrained:      *pretrained,
		Output:          *output,
		Epochs:          *epochs,
		LearningRate:    *lr,
		BatchSize:       *batchSize,
		Seed:            *seed,
		NumWorkers:      *workers,
		MaxTrainSamples: *maxTrain,
		MaxTestSamples:  *maxTest,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("resnet: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("resnet: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	par := parallel.DefaultConfig().WithWorkers(cfg.NumWorkers)
	log.Printf("host: %s, %d workers", parallel.HostInfo(), par.NumWorkers)

	trainSet, err := loadSplit(cfg, cfg.TrainImages, cfg.TrainLabels, cfg.MaxTrainSamples)
	if err != nil {
		return fmt.Errorf("training data: %w", err)
	}
	testSet, err := loadSplit(cfg, cfg.TestImages, cfg.TestLabels, cfg.MaxTestSamples)
	if err != nil {
		return fmt.Errorf("test data: %w", err)
	}
	log.Printf("loaded %d training and %d test images of %dx%d", trainSet.Len(), testSet.Len(), trainSet.Rows(), trainSet.Cols())

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	backend := autodiff.New(cpu.NewWithConfig(par))

	model, err := resnet.NewResNet18(cfg.NumClasses, rand.New(rand.NewSource(seed)), backend)
	if err != nil {
		return err
	}
	log.Printf("model: %s, %d parameters", model.Config().Name, nn.CountParameters(model.Parameters()))

	if err := loadPretrained(cfg, model); err != nil {
		return err
	}

	trainLoader, err := dataset.NewLoader(trainSet, dataset.LoaderConfig{
		BatchSize: cfg.BatchSize,
		Shuffle:   cfg.Shuffle,
		Seed:      seed,
	}, backend)
	if err != nil {
		return err
	}
	testLoader, err := dataset.NewLoader(testSet, dataset.LoaderConfig{BatchSize: cfg.TestBatchSize}, backend)
	if err != nil {
		return err
	}

	optimizer := optim.NewSGD(model.Parameters(), optim.SGDConfig{
		LR:          float32(cfg.LearningRate),
		Momentum:    float32(cfg.Momentum),
		WeightDecay: float32(cfg.WeightDecay),
	}, backend)
	trainer := train.New[backendType](model, optimizer, backend, train.Options{
		Out:         out,
		PrintSplits: cfg.PrintSplits,
	})

	start := time.Now()
	if _, err := trainer.Fit(ctx, trainLoader, testLoader, cfg.Epochs); err != nil {
		return err
	}
	log.Printf("trained %d epochs in %s", cfg.Epochs, time.Since(start).Round(time.Second))

	info, err := nn.SaveModel(cfg.Output, model, model.Config().Name, map[string]string{
		"learning_rate": strconv.FormatFloat(cfg.LearningRate, 'g', -1, 64),
		"batch_size":    strconv.Itoa(cfg.BatchSize),
	})
	if err != nil {
		return err
	}
	log.Printf("saved %s (run %s)", cfg.Output, info.RunID)
	return nil
}

func loadSplit(cfg *config.Config, imagesName, labelsName string, limit int) (*dataset.Dataset, error) {
	images, err := dataset.ReadImages(cfg.Path(imagesName))
	if err != nil {
		return nil, err
	}
	labels, err := dataset.ReadLabels(cfg.Path(labelsName))
	if err != nil {
		return nil, err
	}
	if err := dataset.CheckLabels(labels, cfg.NumClasses); err != nil {
		return nil, err
	}
	ds, err := dataset.New(images, labels)
	if err != nil {
		return nil, err
	}
	return ds.Subset(limit), nil
}

// loadPretrained restores the starting weights. A missing file is tolerated
// unless the config requires it; any other failure is an error.
func loadPretrained(cfg *config.Config, model *resnet.ResNet[backendType]) error {
	if cfg.Pretrained == "" {
		return nil
	}
	info, err := nn.LoadModel(cfg.Pretrained, model)
	switch {
	case err == nil:
		log.Printf("loaded pretrained %s (%s, run %s)", cfg.Pretrained, info.Arch, info.RunID)
		return nil
	case errors.Is(err, fs.ErrNotExist) && !cfg.RequirePretrained:
		log.Printf("no pretrained checkpoint at %s, starting from fresh weights", cfg.Pretrained)
		return nil
	default:
		return fmt.Errorf("pretrained: %w", err)
	}
}
