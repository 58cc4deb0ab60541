package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"portfoliodoctor/src/controller"
	"portfoliodoctor/src/model"
	"portfoliodoctor/src/portfolio"
	"portfoliodoctor/src/utils"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type PortfolioSyncer interface {
	Sync(ctx context.Context, userID string, opts controller.SyncOptions) (*controller.SyncResult, error)
	LatestPortfolio(ctx context.Context, userID string) ([]model.PortfolioEntry, error)
}

type ConnectedLister interface {
	ListConnected(ctx context.Context, userID string) ([]model.ConnectedExchange, error)
}

type PriceSource interface {
	Prices(ctx context.Context) (map[string]decimal.Decimal, error)
}

type SyncRunLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]model.SyncRun, error)
}

// PortfolioDeps groups what the portfolio endpoints need. Prices is
// optional; without it assets are returned unvalued.
type PortfolioDeps struct {
	Syncer    PortfolioSyncer
	Connected ConnectedLister
	Prices    PriceSource
	Runs      SyncRunLister
}

type PortfolioView struct {
	model.PortfolioResponse
	ConnectedExchanges []model.ConnectedExchange `json:"connectedExchanges"`
}

type SyncResponse struct {
	Run       *model.SyncRun `json:"run"`
	Portfolio *PortfolioView `json:"portfolio,omitempty"`
}

type syncFailure struct {
	utils.ErrorBody
	Run *model.SyncRun `json:"run"`
}

func (d PortfolioDeps) view(ctx context.Context, userID string, entries []model.PortfolioEntry) (*PortfolioView, error) {
	connected, err := d.Connected.ListConnected(ctx, userID)
	if err != nil {
		return nil, err
	}

	var prices map[string]decimal.Decimal
	if d.Prices != nil && len(entries) > 0 {
		// a price outage leaves the portfolio unvalued
		prices, err = d.Prices.Prices(ctx)
		if err != nil {
			logger.WithError(err).WithField("user_id", userID).Warn("price source unavailable, returning unvalued portfolio")
			prices = nil
		}
	}

	return &PortfolioView{
		PortfolioResponse:  portfolio.BuildResponse(entries, prices, len(connected)),
		ConnectedExchanges: connected,
	}, nil
}

func GetPortfolioHandler(d PortfolioDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, "get_portfolio")
		if !ok {
			return
		}

		entries, err := d.Syncer.LatestPortfolio(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Error("failed to load portfolio")
			utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to load portfolio")
			return
		}
		view, err := d.view(r.Context(), user.ID, entries)
		if err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Error("failed to build portfolio view")
			utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to load portfolio")
			return
		}
		utils.WriteJSON(w, http.StatusOK, view)
	}
}

func SyncPortfolioHandler(d PortfolioDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, "sync_portfolio")
		if !ok {
			return
		}

		mode := r.URL.Query().Get("mode")
		if mode != "" && mode != model.SyncModeStrict && mode != model.SyncModePartial {
			utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "mode must be strict or partial")
			return
		}
		opts := controller.SyncOptions{Strict: mode == model.SyncModeStrict}

		res, err := d.Syncer.Sync(r.Context(), user.ID, opts)
		switch {
		case errors.Is(err, controller.ErrNoConnectedExchanges):
			utils.WriteError(w, http.StatusNotFound, "no_connected_exchanges", "No connected exchanges")
			return
		case errors.Is(err, controller.ErrAllExchangesFailed):
			var run *model.SyncRun
			if res != nil {
				run = res.Run
			}
			utils.WriteJSON(w, http.StatusBadGateway, syncFailure{
				ErrorBody: utils.ErrorBody{Error: "All exchanges failed", Code: "all_exchanges_failed"},
				Run:       run,
			})
			return
		case err != nil:
			logger.WithError(err).WithField("user_id", user.ID).Error("portfolio sync failed")
			utils.WriteError(w, http.StatusInternalServerError, "internal", "Portfolio sync failed")
			return
		}

		view, err := d.view(r.Context(), user.ID, res.Portfolio)
		if err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Error("failed to build portfolio view")
			utils.WriteJSON(w, http.StatusOK, SyncResponse{Run: res.Run})
			return
		}
		utils.WriteJSON(w, http.StatusOK, SyncResponse{Run: res.Run, Portfolio: view})
	}
}

func SyncRunsHandler(d PortfolioDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, "sync_runs")
		if !ok {
			return
		}

		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 100 {
				utils.WriteError(w, http.StatusBadRequest, "invalid_payload", "limit must be between 1 and 100")
				return
			}
			limit = n
		}

		list, err := d.Runs.ListByUser(r.Context(), user.ID, limit)
		if err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Error("failed to list sync runs")
			utils.WriteError(w, http.StatusInternalServerError, "internal", "Unable to list sync runs")
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"runs": list})
	}
}
