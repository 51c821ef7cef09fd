package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/rmlink/cmd/rmctl/subcmd"
	"github.com/temoto/rmlink/internal/simrobot"
	"github.com/temoto/rmlink/robot"
)

func infoMain(ctx context.Context, env *subcmd.Env) error {
	return withRobot(ctx, env, func(r *robot.Robot) error {
		s := newShell(env, r)
		for _, line := range []string{"version", "sn"} {
			if err := s.exec(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
}

func moveMain(ctx context.Context, env *subcmd.Env) error {
	return withRobot(ctx, env, func(r *robot.Robot) error {
		return newShell(env, r).exec(ctx, "move "+strings.Join(env.Args, " "))
	})
}

func driveMain(ctx context.Context, env *subcmd.Env) error {
	if len(env.Args) != 4 {
		return errors.NotValidf("drive requires x y z sec")
	}
	fs, err := parseFloats(env.Args)
	if err != nil {
		return err
	}
	return withRobot(ctx, env, func(r *robot.Robot) error {
		d := seconds(fs[3])
		if err := r.Chassis().DriveSpeed(fs[0], fs[1], fs[2], d); err != nil {
			return err
		}
		// auto stop fires before session close
		return sleepCtx(ctx, d+200*time.Millisecond)
	})
}

func subMain(ctx context.Context, env *subcmd.Env) error {
	if len(env.Args) != 2 {
		return errors.NotValidf("sub requires subject sec")
	}
	fs, err := parseFloats(env.Args[1:])
	if err != nil {
		return err
	}
	return withRobot(ctx, env, func(r *robot.Robot) error {
		if err := newShell(env, r).exec(ctx, "sub "+env.Args[0]); err != nil {
			return err
		}
		return sleepCtx(ctx, seconds(fs[0]))
	})
}

func simMain(ctx context.Context, env *subcmd.Env) error {
	opt := simrobot.Options{Log: env.Log, Listen: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 20020}}
	if len(env.Args) >= 1 {
		addr, err := net.ResolveUDPAddr("udp4", env.Args[0])
		if err != nil {
			return errors.Annotate(err, "sim listen")
		}
		opt.Listen = addr
	}
	sim, err := simrobot.Start(opt)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "simulated robot on %s\n", sim.Addr())
	sctx, cancel := signalContext(ctx)
	defer cancel()
	<-sctx.Done()
	return sim.Close()
}

// sleepCtx returns early on interrupt.
func sleepCtx(ctx context.Context, d time.Duration) error {
	sctx, cancel := signalContext(ctx)
	defer cancel()
	select {
	case <-time.After(d):
	case <-sctx.Done():
	}
	return nil
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
