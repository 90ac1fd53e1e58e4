package main

import (
	"context"
	"fmt"

	"github.com/kardianos/service"
)

// program adapts run/shutdown to kardianos/service's Interface, the way
// the teacher's main.go delegates to a serviceInstall helper (absent
// from the retrieved source, authored here from kardianos/service's
// documented Program contract: Start must not block, Stop must be
// idempotent and fast).
type program struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newProgram() *program {
	ctx, cancel := context.WithCancel(context.Background())
	return &program{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (p *program) Start(s service.Service) error {
	go func() {
		defer close(p.done)
		runSupervisor(p.ctx)
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.cancel()
	<-p.done
	return nil
}

// serviceInstall installs or uninstalls the supervisor as a platform
// service (systemd/launchd/Windows service, per kardianos/service's
// platform detection), mirroring the teacher's install/uninstall split
// on the CLI's --install/--uninstall flags.
func serviceInstall(install bool) {
	svcConfig := &service.Config{
		Name:        "yesman-claude",
		DisplayName: "Yesman Claude Supervisor",
		Description: "Supervises interactive terminal sessions and auto-answers their prompts.",
	}

	prg := newProgram()
	svc, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Printf("failed to build service: %v\n", err)
		return
	}

	if install {
		if err := svc.Install(); err != nil {
			fmt.Printf("install failed: %v\n", err)
			return
		}
		fmt.Println("service installed")
		return
	}

	if err := svc.Uninstall(); err != nil {
		fmt.Printf("uninstall failed: %v\n", err)
		return
	}
	fmt.Println("service uninstalled")
}
