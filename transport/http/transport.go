package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/ragblade"
)

func respondError(c *gin.Context, status int, err error) {
	c.JSON(status, ragblade.NewErrorResponse(err))
	c.Error(err)
	c.Abort()
}

func IngestHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ragblade.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			respondError(c, ragblade.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func SearchHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := ragblade.SearchRequest{
			Query: c.Query("query"),
		}

		if k := c.Query("k"); k != "" {
			n, err := strconv.Atoi(k)
			if err != nil {
				respondError(c, http.StatusBadRequest, err)
				return
			}

			req.K = n
		}

		if filter := c.QueryMap("filter"); len(filter) > 0 {
			req.Filter = filter
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			respondError(c, ragblade.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func AnswerHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ragblade.AnswerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			respondError(c, ragblade.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func DescribeHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		resp, err := endpoint(ctx, nil)
		if err != nil {
			respondError(c, ragblade.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func DropHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		_, err := endpoint(ctx, nil)
		if err != nil {
			respondError(c, ragblade.StatusCode(err), err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}
