package foldseek

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/strucformer/internal/dataset"
)

// Digest runs the external foldseek binary over every .pdb file under dir
// and returns one sample per requested chain. Files are digested
// concurrently; result order follows the sorted file order. Malformed or
// failing files are reported and skipped, they never abort the run.
func Digest(ctx context.Context, foldseekPath, dir string, chains []string, logger zerolog.Logger) ([]dataset.Sample, error) {
	if _, err := os.Stat(foldseekPath); err != nil {
		return nil, fmt.Errorf("foldseek binary not found at %s: %w", foldseekPath, err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.pdb"))
	if err != nil {
		return nil, fmt.Errorf("globbing %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .pdb files found under %s", dir)
	}
	if len(chains) == 0 {
		chains = []string{"A"}
	}

	// Index-addressed results keep the output order stable regardless of
	// completion order.
	results := make([][]dataset.Sample, len(files))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(runtime.NumCPU())
	for i, file := range files {
		i, file := i, file
		p.Go(func(ctx context.Context) error {
			samples, err := digestFile(ctx, foldseekPath, file, chains)
			if err != nil {
				logger.Warn().Err(err).Str("file", file).Msg("skipping structure file")
				return nil
			}
			results[i] = samples
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, fmt.Errorf("digesting structures: %w", err)
	}

	var samples []dataset.Sample
	for _, r := range results {
		samples = append(samples, r...)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no usable chains digested from %d structure files", len(files))
	}
	logger.Info().Int("files", len(files)).Int("samples", len(samples)).Msg("structure digestion complete")
	return samples, nil
}

// digestFile invokes `foldseek structureto3didescriptor` for one structure
// and parses the requested chains out of its descriptor table.
func digestFile(ctx context.Context, foldseekPath, pdbPath string, chains []string) ([]dataset.Sample, error) {
	tmpDir, err := os.MkdirTemp("", "foldseek-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outPath := filepath.Join(tmpDir, "descriptors.tsv")
	cmd := exec.CommandContext(ctx, foldseekPath, "structureto3didescriptor", pdbPath, outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("foldseek on %s: %w (output: %s)", pdbPath, err, strings.TrimSpace(string(out)))
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor table: %w", err)
	}
	return ParseDescriptors(filepath.Base(pdbPath), string(raw), chains)
}

// ParseDescriptors extracts (aa, 3Di) sequence pairs for the requested
// chains from a foldseek 3Di descriptor table. Each line carries
// name_chain, the amino-acid sequence and the structural sequence as its
// first three tab-separated fields.
func ParseDescriptors(name, table string, chains []string) ([]dataset.Sample, error) {
	wanted := make(map[string]bool, len(chains))
	for _, c := range chains {
		wanted[c] = true
	}

	var samples []dataset.Sample
	for lineNum, line := range strings.Split(table, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s: descriptor line %d has %d fields, want at least 3", name, lineNum+1, len(fields))
		}
		chain := chainOf(fields[0])
		if !wanted[chain] {
			continue
		}
		aaSeq, strucSeq := fields[1], fields[2]
		if len(aaSeq) == 0 || len(aaSeq) != len(strucSeq) {
			return nil, fmt.Errorf("%s chain %s: residue/structural lengths %d/%d disagree", name, chain, len(aaSeq), len(strucSeq))
		}
		samples = append(samples, dataset.Sample{
			Name:     name + "_" + chain,
			AASeq:    aaSeq,
			StrucSeq: strucSeq,
		})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: none of the requested chains %v present", name, chains)
	}
	return samples, nil
}

// chainOf returns the chain identifier suffix of a descriptor entry name,
// e.g. "1abc.pdb_A" -> "A".
func chainOf(entry string) string {
	idx := strings.LastIndex(entry, "_")
	if idx < 0 || idx == len(entry)-1 {
		return ""
	}
	return entry[idx+1:]
}
