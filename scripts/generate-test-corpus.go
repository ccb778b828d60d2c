//go:build ignore

// Package main generates a synthetic corpus of markdown documents for
// benchmarking IndexDocument and query throughput.
// Usage: go run scripts/generate-test-corpus.go -docs 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numDocs   = flag.Int("docs", 1000, "Number of documents to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var docTemplate = `---
title: %s
category: %s
---

# %s

## Overview

%s covers %s for the %s team. This document answers common questions
raised during onboarding and incident review.

## Details

%s typically involves %s, which interacts with %s under normal load.
Operators should expect %s to take effect within a few minutes of a
configuration change.

` + "```" + `
setting: %s
threshold: %d
enabled: true
` + "```" + `

## Frequently Asked Questions

**What happens if %s fails?**

The system falls back to %s and logs a warning. No manual
intervention is required unless the fallback also fails.

**How is %s measured?**

%s is sampled every %d seconds and reported as a rolling average.

## Related Topics

- %s
- %s
- %s
`

// Word pools for generating realistic document content.
var (
	topics = []string{
		"Query Latency", "Cache Eviction", "Index Rebuilds", "Solver Timeouts",
		"Embedding Drift", "Snapshot Recovery", "Rerank Scoring", "Evidence Gating",
		"Citation Verification", "Capacity Planning", "Retry Policy", "Circuit Breakers",
		"Admin Kill Switch", "Answer Caching", "Fuzzy Matching", "Document Chunking",
	}
	categories = []string{
		"operations", "architecture", "troubleshooting", "reference", "onboarding",
	}
	teams = []string{
		"platform", "search", "reliability", "data", "applied-ml",
	}
	mechanisms = []string{
		"exponential backoff", "single-flight deduplication", "LRU eviction",
		"cosine similarity fallback", "EWMA smoothing", "advisory file locking",
		"errgroup fan-out", "hybrid lexical blending",
	}
	components = []string{
		"the vector index", "the metadata store", "the facts cache",
		"the solver pool", "the evidence gate", "the judge verifier",
		"the admin control plane", "the answer pipeline",
	}
)

func main() {
	flag.Parse()
	rand.Seed(*seed)

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generating %d documents in %s...\n", *numDocs, *outputDir)

	for i := 0; i < *numDocs; i++ {
		if err := generateDoc(i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating document %d: %v\n", i, err)
		}
	}

	fmt.Printf("Generated %d documents successfully.\n", *numDocs)
}

func randomWord(pool []string) string {
	return pool[rand.Intn(len(pool))]
}

func generateDoc(index int) error {
	topic := randomWord(topics)
	category := randomWord(categories)
	team := randomWord(teams)
	mechanism := randomWord(mechanisms)
	component := randomWord(components)
	fallback := randomWord(mechanisms)
	related := []string{randomWord(topics), randomWord(topics), randomWord(topics)}

	content := fmt.Sprintf(docTemplate,
		topic, category,
		topic,
		topic, strings.ToLower(topic), team,
		topic, mechanism, component,
		topic,
		strings.ToLower(strings.ReplaceAll(topic, " ", "_")), rand.Intn(100)+1,
		topic,
		fallback,
		topic,
		topic, rand.Intn(55)+5,
		related[0], related[1], related[2],
	)

	filename := filepath.Join(*outputDir, fmt.Sprintf("doc-%04d.md", index))
	return os.WriteFile(filename, []byte(content), 0644)
}
