package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dmagent/internal/agentapi"
	"dmagent/internal/config"
	"dmagent/internal/ipc"
)

const apiTimeout = 2 * time.Minute

type commandContext struct {
	configFlag *string
	apiFlag    *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiClient() (*agentapi.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	bind := cfg.Paths.APIBind
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		bind = strings.TrimSpace(*c.apiFlag)
	}
	token := cfg.Paths.APIToken
	if c.tokenFlag != nil && strings.TrimSpace(*c.tokenFlag) != "" {
		token = strings.TrimSpace(*c.tokenFlag)
	}
	return agentapi.NewClient(bind, token, apiTimeout), nil
}

func (c *commandContext) channelClient(endpoint string) (*ipc.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	ep := ipc.Endpoint{Network: cfg.Worker.Network, Address: cfg.Worker.Address}
	if strings.TrimSpace(endpoint) != "" {
		if ep, err = ipc.ParseEndpoint(endpoint); err != nil {
			return nil, err
		}
	}
	return ipc.NewClient(ep, ipc.ClientOptions{DialTimeout: cfg.DialTimeout(), ExchangeTimeout: cfg.ExchangeTimeout()}), nil
}

func wrapAgentError(err error, bind string) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to agent: %s refused the connection; start it with `dmagent agent`", bind)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("connect to agent: %s timed out", bind)
	default:
		return err
	}
}

func wrapWorkerError(err error, ep ipc.Endpoint) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to worker: socket %s not found; start it with `dmagent worker`", ep.Address)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to worker: %s refused the connection; verify the worker is running", ep)
	default:
		return err
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
