// Package facade serves a Store over HTTP with JSON bodies.
package facade

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"collision-kv/collision"
	"collision-kv/store"
)

// Backend is the part of store.Store the HTTP API needs.
type Backend interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	ScanWith(prefix uint32, opts collision.IteratorOptions, fn func(key, value []byte) bool) error
}

type GetResponse struct {
	Value string `json:"value"`
}

type PutRequest struct {
	Value string `json:"value"`
}

type PutResponse struct {
	Success bool `json:"success"`
}

type DeleteResponse struct {
	Success bool `json:"success"`
}

type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	backend Backend
	sugar   *zap.SugaredLogger
}

func New(backend Backend, logger *zap.Logger) *fiber.App {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{backend: backend, sugar: logger.Sugar()}
	app := fiber.New(fiber.Config{
		ErrorHandler: h.errorHandler,
	})
	app.Get("/prefix/:prefix", h.scan)
	app.Get("/:key", h.get)
	app.Post("/:key", h.put)
	app.Delete("/:key", h.del)
	return app
}

func (h *handler) get(c fiber.Ctx) error {
	value, err := h.backend.Get([]byte(c.Params("key")))
	if err != nil {
		return err
	}
	return c.JSON(&GetResponse{Value: string(value)})
}

func (h *handler) put(c fiber.Ctx) error {
	var req PutRequest
	if err := c.Bind().JSON(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := h.backend.Put([]byte(c.Params("key")), []byte(req.Value)); err != nil {
		return err
	}
	return c.JSON(&PutResponse{Success: true})
}

func (h *handler) del(c fiber.Ctx) error {
	if err := h.backend.Delete([]byte(c.Params("key"))); err != nil {
		return err
	}
	return c.JSON(&DeleteResponse{Success: true})
}

func (h *handler) scan(c fiber.Ctx) error {
	prefix, err := strconv.ParseUint(c.Params("prefix"), 10, 32)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "prefix must be an unsigned 32-bit integer")
	}
	var opts collision.IteratorOptions
	if from := c.Query("from"); from != "" {
		opts.Start = []byte(from)
	}
	if reverse := c.Query("reverse"); reverse != "" {
		if opts.Reverse, err = strconv.ParseBool(reverse); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "reverse must be a boolean")
		}
	}
	pairs := make([]Pair, 0)
	err = h.backend.ScanWith(uint32(prefix), opts, func(key, value []byte) bool {
		pairs = append(pairs, Pair{Key: string(key), Value: string(value)})
		return true
	})
	if err != nil {
		return err
	}
	return c.JSON(pairs)
}

func (h *handler) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, collision.ErrKeyNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, collision.ErrKeyTooLarge), errors.Is(err, collision.ErrValueTooLarge):
		code = fiber.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrStoreClosed):
		code = fiber.StatusServiceUnavailable
	}
	if code >= fiber.StatusInternalServerError {
		h.sugar.Errorw("http request failed", "method", c.Method(), "path", c.Path(), "err", err)
	}
	return c.Status(code).JSON(&ErrorResponse{Error: err.Error()})
}
