package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"verdantdo/dashboard"
	"verdantdo/gateway"
	"verdantdo/identity"
)

type completionRequest struct {
	Completed *bool `json:"completed"`
}

type deleteRequest struct {
	Title string `json:"title"`
}

type categoryRequest struct {
	Name string `json:"name"`
}

// decodeBody reads a JSON body of at most postBodyMaxSize bytes. An empty body
// is accepted when optional is set.
func decodeBody(c echo.Context, v any, optional bool) error {
	if optional && c.Request().ContentLength == 0 {
		return nil
	}
	lr := io.LimitReader(c.Request().Body, postBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// actionsFor authenticates the request and returns the actions of its user.
// On failure the 401 response has already been written.
func actionsFor(c echo.Context, store Store, verifier identity.Verifier, logger *log.Logger) (*dashboard.Actions, error) {
	user, err := authenticate(c, verifier)
	if err != nil {
		logger.WithError(err).Debug("unauthorized mutation")
		return nil, c.JSON(http.StatusUnauthorized, mutationResponse{Notice: noticePtr(dashboard.SignInNotice(err))})
	}
	return dashboard.NewActions(gateway.New(store, user.ID, logger)), nil
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, mutationResponse{Error: &errorBody{Kind: gateway.KindInvalid, Message: "invalid body"}})
}

func postTask(store Store, verifier identity.Verifier, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		actions, err := actionsFor(c, store, verifier, logger)
		if actions == nil {
			return err
		}
		var in dashboard.AddTaskInput
		if err := decodeBody(c, &in, false); err != nil {
			return badRequest(c)
		}
		res, notice := actions.AddTask(c.Request().Context(), in)
		if !res.OK() {
			return c.JSON(failure(res.Err, notice))
		}
		return c.JSON(http.StatusCreated, mutationResponse{Notice: noticePtr(notice), Task: res.Value})
	}
}

func patchTask(store Store, verifier identity.Verifier, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		actions, err := actionsFor(c, store, verifier, logger)
		if actions == nil {
			return err
		}
		var req completionRequest
		if err := decodeBody(c, &req, false); err != nil || req.Completed == nil {
			return badRequest(c)
		}
		res, notice := actions.SetCompletion(c.Request().Context(), c.Param("id"), *req.Completed)
		if !res.OK() {
			return c.JSON(failure(res.Err, notice))
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteTask(store Store, verifier identity.Verifier, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		actions, err := actionsFor(c, store, verifier, logger)
		if actions == nil {
			return err
		}
		var req deleteRequest
		if err := decodeBody(c, &req, true); err != nil {
			return badRequest(c)
		}
		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = c.QueryParam("title")
		}
		res, notice := actions.Delete(c.Request().Context(), dashboard.DeleteInput{ID: c.Param("id"), Title: title})
		if !res.OK() {
			return c.JSON(failure(res.Err, notice))
		}
		return c.JSON(http.StatusOK, mutationResponse{Notice: noticePtr(notice)})
	}
}

func postCategory(store Store, verifier identity.Verifier, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		actions, err := actionsFor(c, store, verifier, logger)
		if actions == nil {
			return err
		}
		var req categoryRequest
		if err := decodeBody(c, &req, false); err != nil {
			return badRequest(c)
		}
		res, notice := actions.AddCategory(c.Request().Context(), req.Name)
		if !res.OK() {
			return c.JSON(failure(res.Err, notice))
		}
		return c.JSON(http.StatusCreated, mutationResponse{Category: res.Value})
	}
}
