package session

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/bill-explainer/internal/analysis"
	"github.com/zombor/bill-explainer/internal/engine"
)

// scriptedEngine is an engine.Engine that records what it was asked
type scriptedEngine struct {
	mu        sync.Mutex
	questions []string
	analyses  []string
}

func (e *scriptedEngine) Analyze(ctx context.Context, img engine.Image) (string, error) {
	return "## Summary\nTotal due: $125.00 (" + img.MIMEType + ")", nil
}

func (e *scriptedEngine) Chat(ctx context.Context, question string, img engine.Image, priorAnalysis string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.questions = append(e.questions, question)
	e.analyses = append(e.analyses, priorAnalysis)
	return "Answer: " + question, nil
}

func (e *scriptedEngine) Close() error {
	return nil
}

var _ = Describe("Bill explainer flow", func() {
	var (
		eng    *scriptedEngine
		store  *analysis.BoltStore
		server *httptest.Server
		client *Client
		ctx    context.Context
		image  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		eng = &scriptedEngine{}

		var err error
		store, err = analysis.NewBoltStore(filepath.Join(GinkgoT().TempDir(), "flow.db"))
		Expect(err).NotTo(HaveOccurred())

		service := analysis.NewService(store, eng)
		server = httptest.NewServer(analysis.NewServer(service, analysis.ServerOptions{}))

		client, err = NewClient(server.URL, server.Client())
		Expect(err).NotTo(HaveOccurred())

		image = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("bill scan"))
	})

	AfterEach(func() {
		server.Close()
		store.Close()
	})

	It("submits, views and chats about a bill", func() {
		submission := NewSubmission(client)
		id, err := submission.Submit(ctx, image)
		Expect(err).NotTo(HaveOccurred())
		Expect(submission.State()).To(Equal(Analyzed))

		viewer := NewViewer(client, id)
		loaded, err := viewer.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.ImageData).To(Equal(image))
		Expect(loaded.Analysis).To(Equal("## Summary\nTotal due: $125.00 (image/jpeg)"))

		chat, err := viewer.Chat()
		Expect(err).NotTo(HaveOccurred())

		_, err = chat.Send(ctx, "What do I owe?")
		Expect(err).NotTo(HaveOccurred())
		answer, err := chat.Send(ctx, "Is that before insurance?")
		Expect(err).NotTo(HaveOccurred())
		Expect(answer).To(Equal("Answer: Is that before insurance?"))

		Expect(chat.Turns()).To(HaveLen(5))
		Expect(eng.questions).To(Equal([]string{"What do I owe?", "Is that before insurance?"}))
		Expect(eng.analyses).To(HaveEach(Equal(loaded.Analysis)))
	})

	It("redirects when the analysis does not exist", func() {
		viewer := NewViewer(client, "does-not-exist")
		_, err := viewer.Load(ctx)
		Expect(err).To(MatchError(ErrNotFound))
		Expect(viewer.State()).To(Equal(NotFoundRedirect))
	})

	It("fails the submission for unsupported images", func() {
		submission := NewSubmission(client)
		_, err := submission.Submit(ctx, "data:text/plain;base64,aGVsbG8=")
		Expect(err).To(HaveOccurred())
		Expect(submission.State()).To(Equal(Failed))

		var apiErr *APIError
		Expect(submission.Err()).To(BeAssignableToTypeOf(apiErr))
		Expect(submission.Err().(*APIError).Message).To(Equal("Invalid image data"))
	})

	It("saves an analysis produced elsewhere", func() {
		id, err := client.Save(ctx, image, "## Summary\nManual")
		Expect(err).NotTo(HaveOccurred())

		record, err := store.Get(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(record.AnalysisText).To(Equal("## Summary\nManual"))
	})
})
