// Command attention walks through scaled dot-product self-attention: it prints
// the query, key and value matrices of a small example, the scaled scores, the
// causal mask, the attention weights and the output, then runs a multi-head
// layer and reports its shapes. Tensors can be saved to disk and the multi-head
// forward pass can be benchmarked.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"github.com/stefanvulpe-dev/ML/pkg/model"
	"github.com/stefanvulpe-dev/ML/pkg/model/attention"
	"github.com/stefanvulpe-dev/ML/pkg/tensor"
)

var (
	flagSeqLen   = flag.Int("seq", 4, "Sequence length of the examples.")
	flagDK       = flag.Int("dk", 8, "Key/value dimension of the single-head example.")
	flagDModel   = flag.Int("dmodel", 512, "Model dimension of the multi-head example.")
	flagHeads    = flag.Int("heads", 8, "Number of heads of the multi-head example.")
	flagBatch    = flag.Int("batch", 1, "Batch size of the multi-head example.")
	flagCausal   = flag.Bool("causal", true, "Apply the causal mask.")
	flagSeed     = flag.Int64("seed", 42, "Seed for inputs and weights.")
	flagParallel = flag.Int("parallel", 0, "Number of (batch, head) slices computed concurrently; 0 or 1 is sequential.")
	flagSave     = flag.String("save", "", "Directory where the single-head tensors are saved. Empty disables saving.")
	flagHalf     = flag.Bool("half", false, "Save tensors as float16.")
	flagBench    = flag.Int("bench", 0, "Number of multi-head forward passes to benchmark. 0 disables it.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	rng := model.NewRand(*flagSeed)
	single, err := singleHead(rng)
	if err != nil {
		klog.Fatalf("Single-head walkthrough failed: %+v", err)
	}
	if *flagSave != "" {
		if err := saveAll(*flagSave, single); err != nil {
			klog.Fatalf("Failed to save tensors: %+v", err)
		}
	}

	cfg := model.Config{
		EmbeddingDim: *flagDModel,
		NumHeads:     *flagHeads,
		Causal:       *flagCausal,
		QKVBias:      true,
		Parallelism:  *flagParallel,
	}
	if err := multiHead(cfg, rng); err != nil {
		klog.Fatalf("Multi-head walkthrough failed: %+v", err)
	}
}

// walkthrough holds the tensors of the single-head example.
type walkthrough struct {
	q, k, v, mask *tensor.Tensor
	result        *attention.Result
}

func singleHead(rng *rand.Rand) (*walkthrough, error) {
	n, dk := *flagSeqLen, *flagDK
	w := &walkthrough{
		q: model.RandomNormal([]int{n, dk}, rng),
		k: model.RandomNormal([]int{n, dk}, rng),
		v: model.RandomNormal([]int{n, dk}, rng),
	}
	fmt.Println(matrixTable("q", w.q))
	fmt.Println(matrixTable("k", w.k))
	fmt.Println(matrixTable("v", w.v))

	// Unmasked pass, to compare the variance of raw and scaled scores.
	unmasked, err := attention.ScaledDotProductAttention(w.q, w.k, w.v).WithScores().Done()
	if err != nil {
		return nil, err
	}
	raw := must.M1(tensor.MatmulTransposed(w.q, w.k))
	fmt.Println(summaryTable("variance", [][2]string{
		{"var(q)", fmt.Sprintf("%.4f", variance(w.q))},
		{"var(k)", fmt.Sprintf("%.4f", variance(w.k))},
		{"var(q·kᵀ)", fmt.Sprintf("%.4f", variance(raw))},
		{"var(q·kᵀ/sqrt(dk))", fmt.Sprintf("%.4f", variance(unmasked.Scores))},
	}))
	fmt.Println(matrixTable("scaled scores", unmasked.Scores))

	sdpa := attention.ScaledDotProductAttention(w.q, w.k, w.v).WithScores()
	if *flagCausal {
		w.mask = tensor.CausalMask(n)
		fmt.Println(matrixTable("mask", w.mask))
		sdpa.WithAdditiveMask(w.mask)
	}
	if w.result, err = sdpa.Done(); err != nil {
		return nil, err
	}
	if w.mask != nil {
		fmt.Println(matrixTable("scaled + mask", w.result.Scores))
	}
	fmt.Println(matrixTable("attention weights", w.result.Weights))
	fmt.Println(matrixTable("output", w.result.Output))
	return w, nil
}

func multiHead(cfg model.Config, rng *rand.Rand) error {
	mha, err := attention.NewMultiHeadAttention(cfg, rng)
	if err != nil {
		return err
	}
	x := model.RandomNormal([]int{*flagBatch, *flagSeqLen, cfg.EmbeddingDim}, rng)
	res, err := mha.Forward(x, nil)
	if err != nil {
		return err
	}

	scoreBytes := uint64(res.Weights.Bytes())
	fmt.Println(summaryTable("multi-head attention", [][2]string{
		{"input", x.ShapeString()},
		{"heads × head_dim", fmt.Sprintf("%d × %d", mha.NumHeads, mha.HeadDim)},
		{"attention weights", res.Weights.ShapeString()},
		{"per-head values", res.Values.ShapeString()},
		{"output", res.Output.ShapeString()},
		{"score memory", humanize.Bytes(scoreBytes)},
		{"causal", fmt.Sprintf("%t", mha.Causal)},
	}))

	if *flagBench > 0 {
		return benchmark(mha, x, *flagBench)
	}
	return nil
}

func benchmark(mha *attention.MultiHeadAttention, x *tensor.Tensor, iterations int) error {
	bar := progressbar.NewOptions(iterations,
		progressbar.OptionSetDescription("forward"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("passes"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stderr),
	)
	start := time.Now()
	for i := 0; i < iterations; i++ {
		if _, err := mha.Forward(x, nil); err != nil {
			return errors.WithMessagef(err, "benchmark pass %d", i)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	elapsed := time.Since(start)
	fmt.Println(summaryTable("benchmark", [][2]string{
		{"passes", humanize.Comma(int64(iterations))},
		{"total", elapsed.String()},
		{"per pass", (elapsed / time.Duration(iterations)).String()},
	}))
	return nil
}

func saveAll(dir string, w *walkthrough) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %q", dir)
	}
	dtype := tensor.Float32
	if *flagHalf {
		dtype = tensor.Float16
	}
	named := map[string]*tensor.Tensor{
		"q":       w.q,
		"k":       w.k,
		"v":       w.v,
		"weights": w.result.Weights,
		"output":  w.result.Output,
	}
	if w.mask != nil {
		named["mask"] = w.mask
	}
	for name, t := range named {
		path := filepath.Join(dir, name+".tnsr")
		if err := tensor.Save(path, t, dtype); err != nil {
			return err
		}
		// Read back to confirm the file is usable.
		loaded, _, err := tensor.Load(path)
		if err != nil {
			return err
		}
		klog.V(1).InfoS("saved tensor", "path", path, "shape", loaded.Shape, "dtype", dtype)
	}
	klog.Infof("Saved %d tensors to %q as %s", len(named), dir, dtype)
	return nil
}

func variance(t *tensor.Tensor) float64 {
	values := make([]float64, len(t.Data))
	for i, v := range t.Data {
		values[i] = float64(v)
	}
	return stat.Variance(values, nil)
}
