package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/bill-explainer/internal/engine"
)

var _ = Describe("Server", func() {
	var (
		store       *mockStore
		eng         *mockEngine
		opts        ServerOptions
		server      *Server
		ghttpServer *ghttp.Server
	)

	// setupServer queues one server.ServeHTTP handler per expected request
	setupServer := func(requests int) {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServer(NewService(store, eng), opts)
		ghttpServer = ghttp.NewServer()
		for i := 0; i < requests; i++ {
			ghttpServer.AppendHandlers(server.ServeHTTP)
		}
	}

	postJSON := func(path string, body string) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+path, "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	readBody := func(resp *http.Response) string {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return string(body)
	}

	BeforeEach(func() {
		store = newMockStore()
		eng = newMockEngine()
		opts = ServerOptions{}
		setupServer(1)
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleHealth", func() {
		It("returns ok", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(Equal("ok"))
		})
	})

	Describe("handleIndex", func() {
		It("serves the web interface", func() {
			resp, err := http.Get(ghttpServer.URL() + "/")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("text/html"))
			Expect(readBody(resp)).To(ContainSubstring("Bill Explainer"))
		})

		It("renders the analysis as markdown", func() {
			resp, err := http.Get(ghttpServer.URL() + "/result/abc123")
			Expect(err).NotTo(HaveOccurred())
			body := readBody(resp)
			Expect(body).To(ContainSubstring("marked.min.js"))
			Expect(body).To(ContainSubstring(`renderMarkdown($("analysis"), record.analysis)`))
			Expect(body).NotTo(ContainSubstring(`$("analysis").textContent`))
		})

		It("serves the web interface for result pages", func() {
			resp, err := http.Get(ghttpServer.URL() + "/result/abc123")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(ContainSubstring("Bill Explainer"))
		})
	})

	Describe("GET /api/analysis", func() {
		When("the record exists", func() {
			BeforeEach(func() {
				store.records["abc123"] = &Record{ID: "abc123", ImageData: testImage("img"), AnalysisText: "## Summary"}
			})

			It("returns the image and the analysis", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/analysis?id=abc123")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				Expect(readBody(resp)).To(MatchJSON(`{"imageData":"` + testImage("img") + `","analysis":"## Summary"}`))
			})
		})

		It("requires an id", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/analysis")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Analysis ID required"}`))
		})

		It("returns 404 for unknown ids", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/analysis?id=missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Analysis not found"}`))
		})

		It("returns 404 when a Supabase key type cannot match the id", func() {
			postgrest := ghttp.NewServer()
			defer postgrest.Close()
			postgrest.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest,
				`{"code":"22P02","message":"invalid input syntax for type bigint: \"nope\""}`))

			supabase, err := NewSupabaseStore(postgrest.URL(), "anon-key")
			Expect(err).NotTo(HaveOccurred())
			backed := NewServer(NewService(supabase, eng), opts)

			rec := httptest.NewRecorder()
			backed.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analysis?id=nope", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(rec.Body.String()).To(MatchJSON(`{"error":"Analysis not found"}`))
		})

		It("treats a blank id as missing", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/analysis?id=%20%20")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Analysis ID required"}`))
		})

		It("returns 500 when the store fails", func() {
			store.getErr = ErrStoreRead
			resp, err := http.Get(ghttpServer.URL() + "/api/analysis?id=abc123")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Failed to fetch analysis"}`))
		})
	})

	Describe("POST /api/analysis", func() {
		It("stores the analysis and returns its id", func() {
			store.nextIDs = []string{"abc123"}
			resp := postJSON("/api/analysis", `{"imageData":"`+testImage("img")+`","analysis":"## Summary"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(MatchJSON(`{"id":"abc123"}`))
			Expect(store.records).To(HaveKey("abc123"))
		})

		It("rejects missing fields without touching the store", func() {
			resp := postJSON("/api/analysis", `{}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Missing required fields"}`))
			Expect(store.created).To(BeZero())
		})

		It("rejects a missing analysis", func() {
			resp := postJSON("/api/analysis", `{"imageData":"`+testImage("img")+`"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(store.created).To(BeZero())
		})

		It("rejects malformed JSON", func() {
			resp := postJSON("/api/analysis", `{not json`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Invalid request body"}`))
		})

		It("returns 500 when the store fails", func() {
			store.createErr = ErrStoreWrite
			resp := postJSON("/api/analysis", `{"imageData":"`+testImage("img")+`","analysis":"## Summary"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Failed to store analysis"}`))
		})
	})

	Describe("POST /api/analyze", func() {
		It("analyzes, stores and returns the id", func() {
			store.nextIDs = []string{"abc123"}
			resp := postJSON("/api/analyze", `{"imageData":"`+testImage("img")+`"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(MatchJSON(`{"id":"abc123"}`))
			Expect(store.records["abc123"].AnalysisText).To(Equal(eng.analysisText))
		})

		It("rejects unsupported images", func() {
			resp := postJSON("/api/analyze", `{"imageData":"data:text/plain;base64,aGVsbG8="}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Invalid image data"}`))
			Expect(eng.analyzed).To(BeEmpty())
		})

		It("returns 422 when the engine blocks the response", func() {
			eng.analyzeErr = &engine.BlockedError{Reason: "SAFETY"}
			resp := postJSON("/api/analyze", `{"imageData":"`+testImage("img")+`"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Response blocked: SAFETY"}`))
			Expect(store.created).To(BeZero())
		})

		It("returns 502 when the engine fails", func() {
			eng.analyzeErr = engine.ErrEngine
			resp := postJSON("/api/analyze", `{"imageData":"`+testImage("img")+`"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Failed to analyze medical bill"}`))
		})

		It("returns 500 when the store fails", func() {
			store.createErr = ErrStoreWrite
			resp := postJSON("/api/analyze", `{"imageData":"`+testImage("img")+`"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Failed to store analysis"}`))
		})

		It("rejects bodies over the size limit", func() {
			huge := strings.Repeat("A", 2*engine.DefaultMaxImageBytes+1)
			req := httptest.NewRequest(http.MethodPost, "/api/analyze",
				strings.NewReader(`{"imageData":"data:image/png;base64,`+huge+`"}`))
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusRequestEntityTooLarge))
			Expect(rec.Body.String()).To(MatchJSON(`{"error":"Request body too large"}`))
			Expect(eng.analyzed).To(BeEmpty())
		})
	})

	Describe("POST /api/chat", func() {
		BeforeEach(func() {
			store.records["abc123"] = &Record{ID: "abc123", ImageData: testImage("img"), AnalysisText: "## Summary"}
		})

		It("answers the question", func() {
			body, err := json.Marshal(map[string]string{"id": "abc123", "question": "What do I owe?"})
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.Post(ghttpServer.URL()+"/api/chat", "application/json", bytes.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(MatchJSON(`{"answer":"You owe $125.00."}`))

			Expect(eng.chats).To(HaveLen(1))
			Expect(eng.chats[0].Question).To(Equal("What do I owe?"))
			Expect(eng.chats[0].PriorAnalysis).To(Equal("## Summary"))
		})

		It("rejects an empty question", func() {
			resp := postJSON("/api/chat", `{"id":"abc123","question":"   "}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(eng.chats).To(BeEmpty())
		})

		It("returns 404 for unknown analyses", func() {
			resp := postJSON("/api/chat", `{"id":"missing","question":"Why?"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Analysis not found"}`))
		})

		It("returns 502 when the engine fails", func() {
			eng.chatErr = engine.ErrEngine
			resp := postJSON("/api/chat", `{"id":"abc123","question":"Why?"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Failed to process question"}`))
		})
	})

	Describe("rate limiting", func() {
		BeforeEach(func() {
			clock := &fakeClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
			opts.RateLimiter = NewSlidingWindowLimiter(2, time.Minute, clock.Now)
			setupServer(4)
		})

		It("limits /api routes per client", func() {
			for i := 0; i < 2; i++ {
				resp, err := http.Get(ghttpServer.URL() + "/api/analysis?id=missing")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			}

			resp, err := http.Get(ghttpServer.URL() + "/api/analysis?id=missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(resp.Header.Get("Retry-After")).To(Equal("60"))
			Expect(readBody(resp)).To(MatchJSON(`{"error":"Too many requests"}`))
		})

		// getFrom sends one request from a fixed socket address with a chosen forwarded-for header
		getFrom := func(remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, "/api/analysis?id=missing", nil)
			req.RemoteAddr = remoteAddr
			req.Header.Set("X-Forwarded-For", forwardedFor)
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			return rec
		}

		It("ignores forwarded-for headers by default", func() {
			limited := 0
			for i := 0; i < 10; i++ {
				rec := getFrom("203.0.113.7:4000", fmt.Sprintf("10.0.0.%d", i))
				if rec.Code == http.StatusTooManyRequests {
					limited++
				}
			}
			Expect(limited).To(Equal(8))
		})

		When("proxy headers are trusted", func() {
			BeforeEach(func() {
				opts.TrustProxyHeaders = true
				setupServer(0)
			})

			It("limits per forwarded client", func() {
				Expect(getFrom("203.0.113.7:4000", "10.0.0.1").Code).To(Equal(http.StatusNotFound))
				Expect(getFrom("203.0.113.7:4000", "10.0.0.1").Code).To(Equal(http.StatusNotFound))
				Expect(getFrom("203.0.113.7:4000", "10.0.0.1").Code).To(Equal(http.StatusTooManyRequests))
				Expect(getFrom("203.0.113.7:4000", "10.0.0.2").Code).To(Equal(http.StatusNotFound))
			})
		})

		It("does not limit the health check", func() {
			for i := 0; i < 4; i++ {
				resp, err := http.Get(ghttpServer.URL() + "/health")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			}
		})
	})
})
