package webhook

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/775kkk/logic-signal-protector-sub000/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// maxBodyBytes bounds the envelope request body.
const maxBodyBytes = 64 << 10

//go:embed envelope.schema.json
var envelopeSchemaJSON string

var envelopeSchema = jsonschema.MustCompileString("envelope.schema.json", envelopeSchemaJSON)

// CommandInfo is one entry of the public command list.
type CommandInfo struct {
	Keyword     string `json:"keyword"`
	Usage       string `json:"usage"`
	Description string `json:"description"`
}

// registerRoutes sets up all webhook routes on the Gin engine.
func registerRoutes(engine *gin.Engine, opts EngineOpts) {
	engine.GET("/healthz", handleHealth())

	api := engine.Group("/api/v1")
	api.POST("/envelopes", handleEnvelope(opts))
	api.GET("/commands", handleCommands(opts.Commands))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleEnvelope validates the body against the envelope schema and routes
// it. Error blocks are part of a successful response; only malformed input
// and caller contract violations change the status code.
func handleEnvelope(opts EngineOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
			return
		}
		env, err := decodeEnvelope(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if env.CorrelationID == "" {
			env.CorrelationID = opts.CorrelationID()
		}

		resp, err := opts.Handler.Route(c.Request.Context(), env)
		if err != nil {
			opts.Logger.Error("webhook: route envelope",
				zap.String("correlation_id", env.CorrelationID),
				zap.Error(err))
			status := http.StatusInternalServerError
			if errors.Is(err, router.ErrMissingActor) {
				c.JSON(status, gin.H{"error": "channel and externalUserId are required"})
				return
			}
			c.JSON(status, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// decodeEnvelope validates raw JSON against the envelope schema, then
// decodes it.
func decodeEnvelope(body []byte) (router.Envelope, error) {
	var env router.Envelope
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return env, errors.New("invalid JSON: " + err.Error())
	}
	if err := envelopeSchema.Validate(doc); err != nil {
		return env, errors.New("invalid envelope: " + err.Error())
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, errors.New("invalid envelope: " + err.Error())
	}
	return env, nil
}

func handleCommands(lister CommandLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := []CommandInfo{}
		if lister != nil {
			for _, d := range lister.PublicCommands(c.Request.Context()) {
				out = append(out, CommandInfo{Keyword: d.Keyword, Usage: d.Usage, Description: d.Description})
			}
		}
		c.JSON(http.StatusOK, gin.H{"commands": out})
	}
}
