package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/rmlink/chassis"
	"github.com/temoto/rmlink/cmd/rmctl/subcmd"
	"github.com/temoto/rmlink/helpers"
	"github.com/temoto/rmlink/helpers/cli"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
	"github.com/temoto/rmlink/robot"
)

const shellUsage = `commands:
- version | sn | product     device info
- mode free|gimbal|chassis   robot mode
- move x y z [xy_speed z_speed]
- drive x y z sec            chassis speed, auto stop after sec
- wheels w1 w2 w3 w4 sec     wheel rpm, auto stop after sec
- pwm percent|freq N=V ...   pwm channels 1-6
- sub position|attitude|imu|status [freq]
- unsub name | subjects | stat
- log=yes | log=no
`

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (self *lockedWriter) Write(b []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.w.Write(b)
}

type shell struct {
	log *log2.Log
	r   *robot.Robot
	out io.Writer
	// moveWait limits how long move blocks, 0 returns right after accept.
	moveWait time.Duration
}

type shellCommand struct {
	name string
	help string
	run  func(ctx context.Context, s *shell, args []string) error
}

var shellCommands = []shellCommand{
	{"help", "", func(_ context.Context, s *shell, _ []string) error {
		_, err := io.WriteString(s.out, shellUsage)
		return err
	}},
	{"version", "firmware version", func(ctx context.Context, s *shell, _ []string) error {
		v, err := s.r.Version(ctx)
		if err == nil {
			fmt.Fprintf(s.out, "version %s\n", v)
		}
		return err
	}},
	{"product", "product version", func(ctx context.Context, s *shell, _ []string) error {
		v, err := s.r.ProductVersion(ctx)
		if err == nil {
			fmt.Fprintf(s.out, "product %s\n", v)
		}
		return err
	}},
	{"sn", "serial number", func(ctx context.Context, s *shell, _ []string) error {
		v, err := s.r.SerialNumber(ctx)
		if err == nil {
			fmt.Fprintf(s.out, "sn %s\n", v)
		}
		return err
	}},
	{"mode", "robot mode", func(ctx context.Context, s *shell, args []string) error {
		modes := map[string]protocol.RobotMode{
			"free":    protocol.RobotModeFree,
			"gimbal":  protocol.RobotModeGimbalLead,
			"chassis": protocol.RobotModeChassisLead,
		}
		if len(args) != 1 {
			return errors.NotValidf("mode requires one of free|gimbal|chassis")
		}
		mode, ok := modes[args[0]]
		if !ok {
			return errors.NotValidf("mode=%s", args[0])
		}
		return s.r.SetMode(ctx, mode)
	}},
	{"move", "relative move", func(ctx context.Context, s *shell, args []string) error {
		if len(args) != 3 && len(args) != 5 {
			return errors.NotValidf("move requires x y z [xy_speed z_speed]")
		}
		fs, err := parseFloats(args)
		if err != nil {
			return err
		}
		sxy, sz := chassis.DefaultMoveSpeedXY, float64(chassis.DefaultMoveSpeedZ)
		if len(fs) == 5 {
			sxy, sz = fs[3], fs[4]
		}
		a, err := s.r.Chassis().Move(ctx, fs[0], fs[1], fs[2], sxy, sz)
		if err != nil {
			return err
		}
		if s.moveWait == 0 {
			fmt.Fprintf(s.out, "move started %s\n", a)
			return nil
		}
		wctx, cancel := context.WithTimeout(ctx, s.moveWait)
		defer cancel()
		err = a.Wait(wctx)
		fmt.Fprintf(s.out, "move %s\n", a)
		return err
	}},
	{"drive", "chassis speed", func(ctx context.Context, s *shell, args []string) error {
		if len(args) != 4 {
			return errors.NotValidf("drive requires x y z sec")
		}
		fs, err := parseFloats(args)
		if err != nil {
			return err
		}
		return s.r.Chassis().DriveSpeed(fs[0], fs[1], fs[2], seconds(fs[3]))
	}},
	{"wheels", "wheel speed", func(ctx context.Context, s *shell, args []string) error {
		if len(args) != 5 {
			return errors.NotValidf("wheels requires w1 w2 w3 w4 sec")
		}
		fs, err := parseFloats(args)
		if err != nil {
			return err
		}
		return s.r.Chassis().DriveWheels(ctx, fs[0], fs[1], fs[2], fs[3], seconds(fs[4]))
	}},
	{"pwm", "pwm outputs", func(ctx context.Context, s *shell, args []string) error {
		if len(args) < 2 {
			return errors.NotValidf("pwm requires percent|freq N=V ...")
		}
		values := make(map[int]float64, len(args)-1)
		for _, a := range args[1:] {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) != 2 {
				return errors.NotValidf("pwm channel=%s", a)
			}
			ch, err := strconv.Atoi(parts[0])
			if err != nil {
				return errors.NotValidf("pwm channel=%s", a)
			}
			v, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				return errors.NotValidf("pwm value=%s", a)
			}
			values[ch] = v
		}
		switch args[0] {
		case "percent":
			return s.r.Chassis().SetPwmPercent(ctx, values)
		case "freq":
			return s.r.Chassis().SetPwmFreq(ctx, values)
		}
		return errors.NotValidf("pwm kind=%s", args[0])
	}},
	{"sub", "subscribe subject", func(ctx context.Context, s *shell, args []string) error {
		if len(args) < 1 || len(args) > 2 {
			return errors.NotValidf("sub requires subject [freq]")
		}
		freq := byte(0)
		if len(args) == 2 {
			f, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return errors.NotValidf("sub freq=%s", args[1])
			}
			freq = byte(f)
		}
		return subscribe(ctx, s.r.Chassis(), args[0], freq, func(name string, v interface{}) {
			fmt.Fprintf(s.out, "%s %+v\n", name, v)
		})
	}},
	{"unsub", "unsubscribe subject", func(ctx context.Context, s *shell, args []string) error {
		if len(args) != 1 {
			return errors.NotValidf("unsub requires name")
		}
		return s.r.Chassis().Unsub(ctx, args[0])
	}},
	{"subjects", "active subjects", func(_ context.Context, s *shell, _ []string) error {
		fmt.Fprintf(s.out, "subjects %s\n", strings.Join(s.r.Subscriber().Subjects(), " "))
		return nil
	}},
	{"stat", "counters", func(_ context.Context, s *shell, _ []string) error {
		fmt.Fprintf(s.out, "client %s\ntelemetry %s\n", s.r.Client().Stat(), s.r.Subscriber().Stat())
		return nil
	}},
	{"log=yes", "debug logging", func(_ context.Context, s *shell, _ []string) error {
		s.log.SetLevel(log2.LDebug)
		return nil
	}},
	{"log=no", "normal logging", func(_ context.Context, s *shell, _ []string) error {
		s.log.SetLevel(log2.LInfo)
		return nil
	}},
}

// subscribe maps subject name to chassis subscription with generic callback.
func subscribe(ctx context.Context, c *chassis.Chassis, name string, freq byte, cb func(string, interface{})) error {
	switch name {
	case chassis.SubjectPosition:
		return c.SubPosition(ctx, chassis.PositionFromCurrent, freq, func(p chassis.Position) { cb(name, p) })
	case chassis.SubjectAttitude:
		return c.SubAttitude(ctx, freq, func(a chassis.Attitude) { cb(name, a) })
	case chassis.SubjectImu:
		return c.SubImu(ctx, freq, func(i chassis.Imu) { cb(name, i) })
	case chassis.SubjectStatus, "status":
		return c.SubStatus(ctx, freq, func(st chassis.Status) { cb(chassis.SubjectStatus, st) })
	}
	return errors.NotFoundf("subject=%s", name)
}

func (s *shell) exec(ctx context.Context, line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	for _, c := range shellCommands {
		if c.name == words[0] {
			return errors.Annotate(c.run(ctx, s, words[1:]), c.name)
		}
	}
	return errors.NotFoundf("command=%s, try help", words[0])
}

func (s *shell) completer() prompt.Completer {
	suggests := make([]prompt.Suggest, 0, len(shellCommands))
	for _, c := range shellCommands {
		suggests = append(suggests, prompt.Suggest{Text: c.name, Description: c.help})
	}
	sort.Slice(suggests, func(i, j int) bool { return suggests[i].Text < suggests[j].Text })
	return cli.WordCompleter(suggests)
}

func parseFloats(args []string) ([]float64, error) {
	fs := make([]float64, len(args))
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, errors.NotValidf("number=%s", a)
		}
		fs[i] = f
	}
	return fs, nil
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// withRobot initializes session from config and closes it after f.
func withRobot(ctx context.Context, env *subcmd.Env, f func(*robot.Robot) error) error {
	opt, err := env.Config.RobotOptions(env.Log)
	if err != nil {
		return err
	}
	r := robot.New(opt)
	if err = r.Initialize(ctx); err != nil {
		return err
	}
	err = f(r)
	return helpers.FoldErrors([]error{err, r.Close()})
}

func newShell(env *subcmd.Env, r *robot.Robot) *shell {
	return &shell{log: env.Log, r: r, out: &lockedWriter{w: env.Out}, moveWait: time.Minute}
}

func shellMain(ctx context.Context, env *subcmd.Env) error {
	return withRobot(ctx, env, func(r *robot.Robot) error {
		s := newShell(env, r)
		return cli.MainLoop("rmctl", func(line string) {
			if err := s.exec(ctx, line); err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}, s.completer())
	})
}
