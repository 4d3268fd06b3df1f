package recognitionHandler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	recognitionService "github.com/yashindibhagya/GestureConnect/internal/api/recognition/service"
	"github.com/yashindibhagya/GestureConnect/internal/middleware"
	"github.com/yashindibhagya/GestureConnect/pkg/utils"
)

const requestTimeout = 10 * time.Second

type RecognitionHandler struct {
	ctx                context.Context
	log                *logrus.Logger
	validator          *validator.Validate
	middleware         middleware.Middleware
	recognitionService recognitionService.IRecognitionService
	utils              utils.IUtils
}

// New builds the handler. Streaming sessions derive their context from ctx,
// so cancelling it aborts in-flight work on every open connection.
func New(
	ctx context.Context,
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	rs recognitionService.IRecognitionService,
	utils utils.IUtils,
) *RecognitionHandler {
	return &RecognitionHandler{
		ctx:                ctx,
		log:                log,
		validator:          validator,
		middleware:         middleware,
		recognitionService: rs,
		utils:              utils,
	}
}

func (h *RecognitionHandler) Start(srv fiber.Router) {
	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	srv.Use("/ws", wsMiddleware)
	srv.Get("/ws", websocket.New(h.handleStream))

	limited := h.middleware.NewRateLimiter

	predict := srv.Group("/predict")
	predict.Post("/frame", limited, h.SubmitFrame)
	predict.Post("/keypoints", limited, h.SubmitKeypoints)
	srv.Get("/predict", limited, h.GetPrediction)

	srv.Post("/reset", limited, h.Reset)
	srv.Get("/actions", limited, h.GetActions)
	srv.Delete("/session", limited, h.EndSession)
	srv.Get("/sessions", limited, h.ListSessions)
}

// StartRoot registers the unversioned liveness and health routes.
func (h *RecognitionHandler) StartRoot(root fiber.Router) {
	root.Get("/", h.Liveness)
	root.Get("/health", h.Health)
}
