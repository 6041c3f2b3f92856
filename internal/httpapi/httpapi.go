// Package httpapi implements the three HTTP endpoints that front a node
// (§6): GET /stats, GET /network, POST /solve. It is a thin adapter over
// internal/node — out of the core P2P scope, but still part of a complete
// node binary.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/RGarrido03/CD-Project/internal/grid"
	"github.com/RGarrido03/CD-Project/internal/node"
)

// Server wraps an echo instance bound to one node.
type Server struct {
	echo *echo.Echo
	node *node.Node
	log  *slog.Logger
}

func New(log *slog.Logger, n *node.Node) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, node: n, log: log}

	e.HTTPErrorHandler = s.notFound

	e.GET("/stats", s.handleStats)
	e.GET("/network", s.handleNetwork)
	e.POST("/solve", s.handleSolve)

	return s
}

// Start blocks serving HTTP on addr until the listener fails or Shutdown
// is called from elsewhere.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// notFound makes every routing failure — unknown path or wrong method —
// answer with the same 404 JSON shape (§6's "any other path or wrong
// method"). An error a handler returns with any other status keeps that
// status and its message.
func (s *Server) notFound(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusNotFound
	var message any = "not found"
	if he, ok := err.(*echo.HTTPError); ok && he.Code != http.StatusNotFound && he.Code != http.StatusMethodNotAllowed {
		code, message = he.Code, he.Message
	}
	if jsonErr := c.JSON(code, map[string]any{"message": message}); jsonErr != nil {
		s.log.Debug("failed to write 404 response", slog.String("err", jsonErr.Error()))
	}
}

type statsResponse struct {
	All   statsAll    `json:"all"`
	Nodes []statsNode `json:"nodes"`
}

type statsAll struct {
	Solved      int64 `json:"solved"`
	Validations int64 `json:"validations"`
}

type statsNode struct {
	Address     string `json:"address"`
	Validations int64  `json:"validations"`
}

func (s *Server) handleStats(c echo.Context) error {
	solved, sum, nodes := s.node.Stats()

	resp := statsResponse{
		All:   statsAll{Solved: solved, Validations: sum},
		Nodes: make([]statsNode, 0, len(nodes)),
	}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, statsNode{Address: n.Address, Validations: n.Validations})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleNetwork(c echo.Context) error {
	return c.JSON(http.StatusOK, s.node.Network())
}

type solveRequest struct {
	Sudoku [9][9]int `json:"sudoku"`
}

type solveResponse struct {
	Sudoku *[9][9]int `json:"sudoku"`
}

func (s *Server) handleSolve(c echo.Context) error {
	var req solveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid sudoku body")
	}

	result, ok, err := s.node.Solve(c.Request().Context(), grid.Grid(req.Sudoku))
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "solve did not complete")
	}
	if !ok {
		return c.JSON(http.StatusOK, solveResponse{})
	}

	arr := [9][9]int(result)
	return c.JSON(http.StatusOK, solveResponse{Sudoku: &arr})
}
