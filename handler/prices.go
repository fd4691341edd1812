package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Amdecodes/DocServe-sub001/service"
)

type PriceList interface {
	Catalogue() []service.PriceEntry
}

type PriceHandler struct {
	prices PriceList
}

func NewPriceHandler(prices PriceList) *PriceHandler {
	return &PriceHandler{prices: prices}
}

func (h *PriceHandler) List(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, gin.H{"prices": h.prices.Catalogue()})
}
