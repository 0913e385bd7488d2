package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/liberr"
)

func (s *Server) registerAPI(api *gin.RouterGroup) {
	api.GET("/status", s.handleStatus)

	api.GET("/assets", s.handleListAssets)
	api.POST("/assets/import", s.handleImport)
	api.GET("/assets/:id", s.handleGetAsset)
	api.PATCH("/assets/:id", s.handleUpdateAsset)
	api.DELETE("/assets/:id", s.handleDeleteAsset)
	api.GET("/assets/:id/thumbnail", s.handleThumbnail)
	api.POST("/assets/:id/cancel-tasks", s.handleCancelTasks)

	api.GET("/albums", s.handleListAlbums)
	api.POST("/albums", s.handleCreateAlbum)
	api.PATCH("/albums/:id", s.handleRenameAlbum)
	api.DELETE("/albums/:id", s.handleDeleteAlbum)
	api.POST("/albums/:id/assets", s.handleAlbumMembership(true))
	api.DELETE("/albums/:id/assets", s.handleAlbumMembership(false))

	api.GET("/smart-albums", s.handleListSmartAlbums)
	api.POST("/smart-albums", s.handleCreateSmartAlbum)
	api.PATCH("/smart-albums/:id", s.handleUpdateSmartAlbum)
	api.DELETE("/smart-albums/:id", s.handleDeleteSmartAlbum)

	api.GET("/tasks", s.handleListTasks)
	api.POST("/tasks/requeue", s.handleRequeue)
	api.POST("/tasks/pause", s.handlePauseTasks(true))
	api.POST("/tasks/resume", s.handlePauseTasks(false))

	api.POST("/scan", s.handleScan)

	api.GET("/settings", s.handleGetSettings)
	api.PATCH("/settings", s.handleUpdateSettings)
	api.POST("/watched-folders", s.handleAddWatchedFolder)
	api.DELETE("/watched-folders", s.handleRemoveWatchedFolder)

	api.GET("/events", s.handleEvents)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

// Assets

func (s *Server) handleListAssets(c *gin.Context) {
	var params searchParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondError(c, errors.Join(errBadRequest, err))
		return
	}
	res, err := s.search(params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleImport(c *gin.Context) {
	var req struct {
		Paths []string `json:"paths" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.importPaths(c.Request.Context(), req.Paths)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetAsset(c *gin.Context) {
	detail, err := s.assetDetail(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleUpdateAsset(c *gin.Context) {
	var patch assetPatch
	if !bindJSON(c, &patch) {
		return
	}
	asset, err := s.updateAsset(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func (s *Server) handleDeleteAsset(c *gin.Context) {
	if err := s.engine.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleThumbnail(c *gin.Context) {
	asset, err := s.engine.Asset(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if asset.ThumbnailRef == "" {
		respondError(c, liberr.NotFound("thumbnail", asset.ID))
		return
	}
	c.File(asset.ThumbnailRef)
}

func (s *Server) handleCancelTasks(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.engine.Asset(id); err != nil {
		respondError(c, err)
		return
	}
	if err := s.engine.CancelTasks(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Albums

func (s *Server) handleListAlbums(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot().Albums)
}

type nameRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleCreateAlbum(c *gin.Context) {
	var req nameRequest
	if !bindJSON(c, &req) {
		return
	}
	album, err := s.engine.CreateAlbum(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, album)
}

func (s *Server) handleRenameAlbum(c *gin.Context) {
	var req nameRequest
	if !bindJSON(c, &req) {
		return
	}
	id := c.Param("id")
	if err := s.engine.RenameAlbum(c.Request.Context(), id, req.Name); err != nil {
		respondError(c, err)
		return
	}
	album, _ := s.engine.Snapshot().Album(id)
	c.JSON(http.StatusOK, album)
}

func (s *Server) handleDeleteAlbum(c *gin.Context) {
	if err := s.engine.DeleteAlbum(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAlbumMembership(add bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AssetIDs []string `json:"assetIds" binding:"required"`
		}
		if !bindJSON(c, &req) {
			return
		}
		id := c.Param("id")
		var err error
		if add {
			err = s.engine.AddToAlbum(c.Request.Context(), id, req.AssetIDs...)
		} else {
			err = s.engine.RemoveFromAlbum(c.Request.Context(), id, req.AssetIDs...)
		}
		if err != nil {
			respondError(c, err)
			return
		}
		album, _ := s.engine.Snapshot().Album(id)
		c.JSON(http.StatusOK, album)
	}
}

// Smart albums

func (s *Server) handleListSmartAlbums(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot().SmartAlbums)
}

func (s *Server) handleCreateSmartAlbum(c *gin.Context) {
	var req struct {
		Name  string        `json:"name" binding:"required"`
		Rules []models.Rule `json:"rules"`
	}
	if !bindJSON(c, &req) {
		return
	}
	album, err := s.engine.CreateSmartAlbum(c.Request.Context(), req.Name, req.Rules)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, album)
}

func (s *Server) handleUpdateSmartAlbum(c *gin.Context) {
	var req struct {
		Name  *string        `json:"name"`
		Rules *[]models.Rule `json:"rules"`
	}
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if req.Name == nil && req.Rules == nil {
		respondError(c, liberr.Invalidf("update smart album", id, "nothing to update"))
		return
	}
	if req.Name != nil {
		if err := s.engine.RenameSmartAlbum(ctx, id, *req.Name); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.Rules != nil {
		if err := s.engine.SetSmartAlbumRules(ctx, id, *req.Rules); err != nil {
			respondError(c, err)
			return
		}
	}
	album, _ := s.engine.Snapshot().SmartAlbum(id)
	c.JSON(http.StatusOK, album)
}

func (s *Server) handleDeleteSmartAlbum(c *gin.Context) {
	if err := s.engine.DeleteSmartAlbum(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Tasks

func (s *Server) handleListTasks(c *gin.Context) {
	var f taskFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		respondError(c, errors.Join(errBadRequest, err))
		return
	}
	res, err := s.listTasks(f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRequeue(c *gin.Context) {
	var req struct {
		AssetID string `json:"assetId" binding:"required"`
		Kind    string `json:"kind" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	task, err := s.requeue(c.Request.Context(), req.AssetID, req.Kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handlePauseTasks(pause bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.tasks == nil {
			respondError(c, liberr.Conflict("pause tasks", "", "no task dispatcher is running"))
			return
		}
		if pause {
			s.tasks.Pause()
		} else {
			s.tasks.Resume()
		}
		c.JSON(http.StatusOK, s.tasks.Stats())
	}
}

// Scanning and settings

func (s *Server) handleScan(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	report, err := s.scan(c.Request.Context(), req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.settingsView())
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var patch settingsPatch
	if !bindJSON(c, &patch) {
		return
	}
	view, err := s.applySettings(c.Request.Context(), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type folderRequest struct {
	Path string `json:"path" binding:"required"`
}

func (s *Server) handleAddWatchedFolder(c *gin.Context) {
	var req folderRequest
	if !bindJSON(c, &req) {
		return
	}
	if _, err := s.addWatchedFolder(c.Request.Context(), req.Path); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.settingsView())
}

func (s *Server) handleRemoveWatchedFolder(c *gin.Context) {
	var req folderRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.engine.RemoveWatchedFolder(c.Request.Context(), req.Path); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.settingsView())
}
