package telegram

import (
	"context"
	"time"
)

const pollRetryDelay = 1500 * time.Millisecond

func (c *Connector) Start(ctx context.Context) error {
	component := c.component()
	if c.reporter != nil {
		c.reporter.Starting(component, "starting")
	}
	if c.client == nil || c.client.token == "" {
		if c.reporter != nil {
			c.reporter.Disabled(component, "token missing")
		}
		c.logger.Info("connector disabled, token missing")
		<-ctx.Done()
		return nil
	}
	if c.gate == nil {
		if c.reporter != nil {
			c.reporter.Disabled(component, "quota gate missing")
		}
		c.logger.Info("connector disabled, quota gate missing")
		<-ctx.Done()
		return nil
	}

	if c.reporter != nil {
		c.reporter.Beat(component, "polling updates")
	}
	c.logger.Info("connector started", "api_base", c.client.apiBase)
	if me, err := c.client.GetMe(ctx); err == nil {
		c.setIdentity(me.ID, me.Username)
		if c.botUsername != "" {
			c.logger.Info("telegram bot identity loaded", "username", c.botUsername)
		}
	} else {
		c.logger.Warn("telegram bot identity lookup failed", "error", err)
	}
	if c.commandSync {
		if err := c.syncCommands(ctx); err != nil {
			c.logger.Warn("telegram command sync failed", "error", err)
		} else {
			c.logger.Info("telegram commands synced")
		}
	}

	for {
		if ctx.Err() != nil {
			return c.stopped()
		}
		if err := c.pollOnce(ctx); err != nil && ctx.Err() == nil {
			if c.reporter != nil {
				c.reporter.Degrade(component, "poll failed", err)
			}
			c.logger.Error("poll failed", "error", err)
			select {
			case <-ctx.Done():
				return c.stopped()
			case <-time.After(pollRetryDelay):
			}
		} else if c.reporter != nil {
			c.reporter.Beat(component, "poll cycle ok")
		}
	}
}

func (c *Connector) stopped() error {
	c.inflight.Wait()
	if c.reporter != nil {
		c.reporter.Stopped(c.component(), "stopped")
	}
	c.logger.Info("connector stopped")
	return nil
}

func (c *Connector) pollOnce(ctx context.Context) error {
	updates, err := c.client.GetUpdates(ctx, c.offset)
	if err != nil {
		return err
	}
	for _, update := range updates {
		if update.UpdateID >= c.offset {
			c.offset = update.UpdateID + 1
		}
		if update.Message == nil {
			continue
		}
		if err := c.handleMessage(ctx, *update.Message); err != nil {
			c.logger.Error("handle message failed", "error", err, "update_id", update.UpdateID)
		}
	}
	return nil
}
