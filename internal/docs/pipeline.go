package docs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chadiek/checkin-demo/internal/chat"
)

// Analyzer runs the two remote document-analysis stages.
type Analyzer interface {
	ClassifyDocument(ctx context.Context, filename string, data []byte) (string, error)
	ExtractDocument(ctx context.Context, filename string, data []byte) (string, error)
}

// BlobStore persists uploaded document bytes and returns a reference.
type BlobStore interface {
	Upload(key, contentType string, data []byte) (string, error)
}

// Pipeline turns an uploaded file into an immediate classification reply and
// a durable finding. Each submission runs its own independent two-stage
// pipeline; any number may be in flight at once.
type Pipeline struct {
	analyzer Analyzer
	store    BlobStore
	log      *chat.Log
	// onAssistant routes the classification reply through the dialog
	// controller so it is spoken and completion-checked like any other
	// assistant turn.
	onAssistant func(text string)

	mu       sync.Mutex
	findings []string
	active   int32
}

func NewPipeline(analyzer Analyzer, store BlobStore, convLog *chat.Log, onAssistant func(string)) *Pipeline {
	return &Pipeline{analyzer: analyzer, store: store, log: convLog, onAssistant: onAssistant}
}

// Submit records the upload in the transcript and starts the analysis
// pipeline. The file must be non-empty; type filtering is a UI concern and is
// not enforced here.
func (p *Pipeline) Submit(ctx context.Context, filename, contentType string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("docs: empty file")
	}

	ref := ""
	if p.store != nil {
		key := uuid.NewString() + "-" + filename
		uploaded, err := p.store.Upload(key, contentType, data)
		if err != nil {
			// the conversation goes on without a retrievable copy
			log.Printf("docs: upload failed for %s: %v", filename, err)
		} else {
			ref = uploaded
		}
	}
	p.log.AppendAttachment(chat.RoleUser, "Document uploaded", chat.Attachment{
		BlobRef:     ref,
		DisplayName: filename,
	})

	atomic.AddInt32(&p.active, 1)
	// analysis outlives the caller (an HTTP handler returns 202 right away),
	// so it must not die with the request context
	go p.analyze(context.WithoutCancel(ctx), filename, data)
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, filename string, data []byte) {
	defer atomic.AddInt32(&p.active, -1)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	// stage 1: classification is best-effort; a failure never blocks stage 2
	label, err := p.analyzer.ClassifyDocument(ctx, filename, data)
	if err != nil {
		log.Printf("docs: classify %s: %v", filename, err)
	} else if label != "" && p.onAssistant != nil {
		p.onAssistant(fmt.Sprintf("I've analyzed your document. It appears to be: %s. Is this correct?", label))
	}

	// stage 2: extraction failures are silent; no turn, no finding
	finding, err := p.analyzer.ExtractDocument(ctx, filename, data)
	if err != nil {
		log.Printf("docs: extract %s: %v", filename, err)
		return
	}
	if finding == "" {
		return
	}
	p.mu.Lock()
	p.findings = append(p.findings, finding)
	p.mu.Unlock()
}

// Analyzing reports whether at least one pipeline run is active.
func (p *Pipeline) Analyzing() bool {
	return atomic.LoadInt32(&p.active) > 0
}

// Findings returns a copy of the accumulated findings in arrival order.
func (p *Pipeline) Findings() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.findings))
	copy(out, p.findings)
	return out
}
