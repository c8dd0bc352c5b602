package http

import (
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/ragblade"

	mcpE "github.com/flarexio/ragblade/mcp"
)

func AddRouters(r *gin.Engine, endpoints *ragblade.EndpointSet) {
	api := r.Group("/api")
	{
		api.POST("/ingest", IngestHandler(endpoints.Ingest))
		api.GET("/search", SearchHandler(endpoints.Search))
		api.POST("/answer", AnswerHandler(endpoints.Answer))
		api.GET("/collection", DescribeHandler(endpoints.Describe))
		api.DELETE("/collection", DropHandler(endpoints.Drop))
	}
}

func AddStreamableRouters(r *gin.Engine, endpoints map[mcp.MCPMethod]mcpE.MCPEndpoint) {
	mcp := r.Group("/mcp")
	{
		mcp.POST("/", MCPStreamableHandler(endpoints))
	}
}
