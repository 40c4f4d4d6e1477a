// Command strucformer trains a residue-to-3Di seq2seq transformer with
// masked structural-token supervision.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/strucformer/internal/config"
	"github.com/strucformer/internal/dataset"
	"github.com/strucformer/internal/foldseek"
	"github.com/strucformer/internal/logging"
	"github.com/strucformer/internal/telemetry"
	"github.com/strucformer/internal/tokenizer"
	"github.com/strucformer/pkg/autodiff"
	"github.com/strucformer/pkg/model"
	"github.com/strucformer/pkg/training"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	chainList := flag.String("chains", "A", "comma-separated chain identifiers to digest")
	runsDir := flag.String("runs", "runs", "directory for per-run telemetry files")
	flag.Parse()

	if err := run(*configPath, *chainList, *runsDir); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, chainList, runsDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chains := strings.Split(chainList, ",")
	samples, err := foldseek.Digest(ctx, cfg.FoldseekPath, cfg.DataPath, chains, logger)
	if err != nil {
		return err
	}

	splitRng := rand.New(rand.NewSource(cfg.Seed))
	trainSet, testSet, err := dataset.New(samples).Split(cfg.TestSplit, splitRng)
	if err != nil {
		return err
	}
	logger.Info().Int("train", trainSet.Len()).Int("test", testSet.Len()).Msg("dataset split")

	aaCodec := tokenizer.NewResidueCodec()
	strucCodec := tokenizer.NewStructuralCodec()

	net, err := model.New(model.Config{
		EncoderVocab: aaCodec.VocabSize(),
		DecoderVocab: strucCodec.VocabSize(),
		DimModel:     cfg.DimModel,
		NumHeads:     cfg.NumHeads,
		NumLayers:    cfg.NumLayers,
		FFHidden:     cfg.FFHiddenLayer,
		Dropout:      cfg.Dropout,
		MaxLen:       cfg.MaxLen,
	}, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return err
	}

	reporter := telemetry.NewNop()
	if cfg.GetWandb {
		reporter, err = telemetry.NewRun(cfg.WandbProject, runsDir, logger)
		if err != nil {
			return err
		}
	}
	defer func() {
		if cerr := reporter.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("closing telemetry reporter")
		}
	}()

	loop, err := training.NewLoop(net, autodiff.NewAdamOptimizer(cfg.LearningRate, 0),
		training.SingleProcess{}, aaCodec, strucCodec, reporter, logger, training.Config{
			Epochs:       cfg.Epochs,
			BatchSize:    cfg.BatchSize,
			MaxLen:       cfg.MaxLen,
			MaskingRatio: cfg.MaskingRatio,
			Epsilon:      cfg.Epsilon,
			ClipNorm:     cfg.ClipNorm,
			Seed:         cfg.Seed,
		})
	if err != nil {
		return err
	}

	results, err := loop.Run(trainSet, testSet)
	if err != nil {
		return err
	}

	final := results[len(results)-1]
	logger.Info().
		Float64("train_loss", final.TrainLoss).
		Float64("eval_loss", final.Eval.AvgLoss).
		Float64("accuracy", final.Eval.Accuracy).
		Float64("f1", final.Eval.F1).
		Msg("run finished")
	return nil
}
