package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/graphport-backend/internal/graph"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
)

type SchemaHandler struct {
	graph graph.Store
	log   *logger.Logger
}

func NewSchemaHandler(store graph.Store, baseLog *logger.Logger) *SchemaHandler {
	return &SchemaHandler{graph: store, log: baseLog.With("handler", "SchemaHandler")}
}

// GET /api/graph/schema
//
// Reports the labels and relationship types currently in the graph, with the
// property keys seen on a sample of each label's nodes.
func (h *SchemaHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	labels, err := h.graph.Labels(ctx)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "schema_query_failed", err)
		return
	}
	relTypes, err := h.graph.RelationshipTypes(ctx)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "schema_query_failed", err)
		return
	}

	properties := make(map[string][]string, len(labels))
	for _, label := range labels {
		keys, err := h.graph.LabelPropertyKeys(ctx, label)
		if err != nil {
			h.log.Warn("Failed to load property keys", "label", label, "error", err)
			continue
		}
		properties[label] = keys
	}

	RespondOK(c, gin.H{
		"labels":             labels,
		"relationship_types": relTypes,
		"properties":         properties,
	})
}
