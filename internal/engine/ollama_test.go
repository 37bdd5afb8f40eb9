package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server   *ghttp.Server
		client   *Ollama
		img      Image
		captured ollamaChatRequest
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		client, err = NewOllama(server.URL(), "llava")
		Expect(err).NotTo(HaveOccurred())
		img = mustParse(dataURL("image/png", testPNG()))
	})

	AfterEach(func() {
		server.Close()
	})

	When("the model answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				func(w http.ResponseWriter, r *http.Request) {
					body, err := io.ReadAll(r.Body)
					Expect(err).NotTo(HaveOccurred())
					Expect(json.Unmarshal(body, &captured)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: "  ## Summary\nDue now  "},
					Done:    true,
				}),
			))
		})

		It("should return the trimmed text", func() {
			text, err := client.Analyze(context.Background(), img)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("## Summary\nDue now"))
		})

		It("should attach the image to the user message", func() {
			_, err := client.Analyze(context.Background(), img)
			Expect(err).NotTo(HaveOccurred())
			Expect(captured.Model).To(Equal("llava"))
			Expect(captured.Stream).To(BeFalse())
			Expect(captured.Messages).To(HaveLen(2))
			Expect(captured.Messages[1].Content).To(Equal(analysisPrompt))
			Expect(captured.Messages[1].Images).To(ConsistOf(img.Payload))
		})
	})

	When("the image is a GIF", func() {
		BeforeEach(func() {
			img = mustParse(dataURL("image/gif", testGIF()))
			server.AppendHandlers(ghttp.CombineHandlers(
				func(w http.ResponseWriter, r *http.Request) {
					body, err := io.ReadAll(r.Body)
					Expect(err).NotTo(HaveOccurred())
					Expect(json.Unmarshal(body, &captured)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: "answer"},
					Done:    true,
				}),
			))
		})

		It("should convert it to PNG before sending", func() {
			_, err := client.Chat(context.Background(), "question", img, "analysis")
			Expect(err).NotTo(HaveOccurred())
			sent, err := base64.StdEncoding.DecodeString(captured.Messages[1].Images[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(sent[:8]).To(Equal([]byte("\x89PNG\r\n\x1a\n")))
		})
	})

	When("the API returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns an engine error including the body", func() {
			_, err := client.Analyze(context.Background(), img)
			Expect(err).To(MatchError(ErrEngine))
			Expect(err.Error()).To(ContainSubstring("model not loaded"))
		})
	})

	When("the model returns nothing", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{Done: true}))
		})

		It("returns an engine error", func() {
			_, err := client.Analyze(context.Background(), img)
			Expect(err).To(MatchError(ErrEngine))
		})
	})
})
