package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gpvae-ball/internal/config"
	"gpvae-ball/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (defaults built in when empty)")
	elboName := flag.String("elbo", "", "Objective: GPVAE_Pearce, VAE, NP, SVGPVAE_Hensman or SVGPVAE_Titsias")
	steps := flag.Int("steps", 0, "Number of Adam steps")
	printEvery := flag.Int("num-print-epochs", 0, "Evaluate and log every N steps")
	beta0 := flag.Float64("beta0", 0, "Weight of the KL term during training")
	modelLT := flag.Float64("modellt", 0, "Length-scale of the model GP")
	vidLT := flag.Float64("vidlt", 0, "Length-scale used to generate the videos")
	baseDir := flag.String("base-dir", "", "Folder in which a new directory is made for each run")
	cacheDir := flag.String("cache-dir", "", "Folder holding cached test batches (defaults to -base-dir)")
	expID := flag.String("expid", "", "Experiment name")
	ram := flag.Float64("ram", 0, "Share of CPUs used to generate training videos")
	seed := flag.Int64("seed", 0, "PRNG seed")
	tmax := flag.Int("tmax", 0, "Length of videos")
	m := flag.Int("m", 0, "Number of inducing points")
	gpJoint := flag.Bool("gp-joint", false, "Optimise GP hyper-parameters jointly")
	ipJoint := flag.Bool("ip-joint", false, "Optimise inducing points jointly")
	clipQs := flag.Bool("clip-qs", false, "Clip variance of the inference network")
	clipGrad := flag.Bool("clip-grad", false, "Clip gradients")
	save := flag.Bool("save", false, "Save evaluation results and plots")
	squaresCircles := flag.Bool("squares-circles", false, "Mark path starts with squares and ends with circles")
	ipMin := flag.Float64("ip-min", 0, "First inducing point")
	ipMax := flag.Float64("ip-max", 0, "Last inducing point")
	jitter := flag.Float64("jitter", 0, "Jitter added to K_mm")
	gpInit := flag.Float64("gp-init", 0, "Initial length-scale when the GP is optimised jointly")
	numWorkers := flag.Int("num-workers", 0, "Number of video generator workers")

	flag.Parse()
	start := time.Now()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Read(*cfgPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	// only flags given on the command line override the config; validation
	// runs once on the merged result
	var o config.Overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "elbo":
			o.ELBO = elboName
		case "steps":
			o.Steps = steps
		case "num-print-epochs":
			o.PrintEvery = printEvery
		case "beta0":
			o.Beta0 = beta0
		case "modellt":
			o.ModelLT = modelLT
		case "vidlt":
			o.VidLT = vidLT
		case "base-dir":
			o.BaseDir = baseDir
		case "cache-dir":
			o.CacheDir = cacheDir
		case "expid":
			o.ExpID = expID
		case "ram":
			o.ComputeFrac = ram
		case "seed":
			o.Seed = seed
		case "tmax":
			o.TMax = tmax
		case "m":
			o.InducingPoints = m
		case "gp-joint":
			o.GPJoint = gpJoint
		case "ip-joint":
			o.IPJoint = ipJoint
		case "clip-qs":
			o.ClipQs = clipQs
		case "clip-grad":
			o.ClipGrad = clipGrad
		case "save":
			o.Save = save
		case "squares-circles":
			o.SquaresCircles = squaresCircles
		case "ip-min":
			o.IPMin = ipMin
		case "ip-max":
			o.IPMax = ipMax
		case "jitter":
			o.Jitter = jitter
		case "gp-init":
			o.GPInit = gpInit
		case "num-workers":
			o.NumWorkers = numWorkers
		}
	})
	cfg.ApplyOverrides(o)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trainer.Run(ctx, cfg); err != nil {
		log.Fatalf("training failed: %v", err)
	}
	log.Printf("running_time=%s", time.Since(start).Round(time.Millisecond))
}
