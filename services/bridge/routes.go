// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all bridge routes with the router.
//
// Description:
//
//	Registers all /v1/bridge/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Core Endpoints:
//
//	GET  /v1/bridge/health - Health check
//	POST /v1/bridge/corpus - Load corpus records from a path or gs:// URI
//	GET  /v1/bridge/corpus/stats - Corpus size and source counts
//	GET  /v1/bridge/catalog - Active catalog in ranking order
//	POST /v1/bridge/resolve - Run one bounded bridge search
//	GET  /v1/bridge/resolve/ws - Resolve with live progress streaming
//
// Debug Endpoints:
//
//	GET  /v1/bridge/debug/config - Effective service configuration
//	GET  /v1/bridge/debug/corpus - Raw record sample
//	GET  /v1/bridge/debug/catalog/export - Catalog as JSON download
//
// Example:
//
//	service, _ := bridge.NewService(source, bridge.DefaultServiceConfig())
//	handlers := bridge.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	bridge.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	bridge := rg.Group("/bridge")
	{
		bridge.GET("/health", handlers.HandleHealth)

		// Corpus lifecycle
		bridge.POST("/corpus", handlers.HandleLoadCorpus)
		bridge.GET("/corpus/stats", handlers.HandleCorpusStats)

		// Catalog introspection
		bridge.GET("/catalog", handlers.HandleCatalog)

		// Search
		bridge.POST("/resolve", handlers.HandleResolve)
		bridge.GET("/resolve/ws", handlers.HandleResolveWS)

		debug := bridge.Group("/debug")
		{
			debug.GET("/config", handlers.HandleDebugConfig)
			debug.GET("/corpus", handlers.HandleDebugCorpus)
			debug.GET("/catalog/export", handlers.HandleDebugCatalogExport)
		}
	}
}
