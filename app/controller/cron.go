package controller

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/factory"
	"github.com/vibast-solutions/ms-go-billing/app/mapper"
	"github.com/vibast-solutions/ms-go-billing/app/service"
)

const bearerPrefix = "Bearer "

// CronController exposes the scheduler jobs to an external cron caller
// authenticated by a shared bearer secret.
type CronController struct {
	scheduler *service.SchedulerService
	secret    string
	logger    logrus.FieldLogger
}

func NewCronController(scheduler *service.SchedulerService, secret string) *CronController {
	return &CronController{
		scheduler: scheduler,
		secret:    strings.TrimSpace(secret),
		logger:    factory.NewModuleLogger("cron-controller"),
	}
}

func (c *CronController) CancelExpiredPayments(ctx echo.Context) error {
	return c.run(ctx, service.JobCancelExpiredPayments)
}

func (c *CronController) ChargeDeferredPayments(ctx echo.Context) error {
	return c.run(ctx, service.JobChargeDeferredPayments)
}

func (c *CronController) ProcessScheduledCancellations(ctx echo.Context) error {
	return c.run(ctx, service.JobProcessScheduledCancellations)
}

func (c *CronController) run(ctx echo.Context, job string) error {
	if c.secret == "" {
		factory.LoggerWithContext(c.logger, ctx).Error("CRON_SECRET is not configured")
		return writeError(ctx, http.StatusInternalServerError, internalServerError)
	}
	if !c.authorized(ctx.Request().Header.Get(echo.HeaderAuthorization)) {
		return writeError(ctx, http.StatusUnauthorized, "unauthorized")
	}

	// Jobs run to completion even if the cron caller hangs up.
	result, err := c.scheduler.Run(context.WithoutCancel(ctx.Request().Context()), job)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Cron job "+job)
	}
	return ctx.JSON(http.StatusOK, mapper.JobResultToResponse(result))
}

func (c *CronController) authorized(header string) bool {
	if !strings.HasPrefix(header, bearerPrefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.secret)) == 1
}
