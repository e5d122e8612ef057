// Command taoo is a terminal front end for the client core: sign in with a
// phone number, spin the daily wheel, scan receipts and browse deals.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taoo-rewards/internal/app"
	"taoo-rewards/internal/authflow"
	"taoo-rewards/internal/catalog"
	"taoo-rewards/internal/config"
	"taoo-rewards/internal/logging"
	"taoo-rewards/internal/lottery"
	"taoo-rewards/internal/models"
	"taoo-rewards/internal/receipt"
	"taoo-rewards/internal/session"
)

func main() {
	apiURL := flag.String("api", "", "rewards API base URL (default: offline demo backend)")
	redisAddr := flag.String("redis", "", "persist the session in redis at this address")
	wheelPath := flag.String("wheel", "", "wheel YAML file")
	tz := flag.String("tz", "Africa/Tunis", "timezone of the daily spin window")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := logging.New(logging.Options{Level: *logLevel})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var kv session.KV = session.NewMemoryKV()
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		kv = session.NewRedisKV(rdb, 30*24*time.Hour)
	}

	wheel, err := config.LoadWheel(*wheelPath)
	if err != nil {
		logger.Fatal("load wheel", zap.Error(err))
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		logger.Fatal("load timezone", zap.Error(err))
	}

	deps := app.Deps{
		Session:  session.NewManager(kv, "taoo:session", logger),
		Wheel:    wheel,
		Gate:     lottery.NewGate(nil, loc),
		Analyzer: receipt.NewSimulatedAnalyzer(1500*time.Millisecond, nil),
		Logger:   logger,
	}
	if *apiURL != "" {
		client := authflow.NewHTTPClient(*apiURL, nil)
		deps.Client = client
		deps.Deleter = client
		deps.Rewards = app.NewRemoteRewards(client)
	} else {
		deps.Client = authflow.NewDemoClient()
	}

	a, err := app.New(deps)
	if err != nil {
		logger.Fatal("init app", zap.Error(err))
	}
	if err := a.Start(ctx); err != nil {
		logger.Fatal("restore session", zap.Error(err))
	}

	sh := &shell{app: a, out: os.Stdout}
	sh.run(ctx, bufio.NewScanner(os.Stdin))
}

type shell struct {
	app *app.App
	out *os.File
}

type command struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

func (s *shell) commands() map[string]command {
	return map[string]command{
		"phone":   {"phone <number>  enter and submit a phone number", s.phone},
		"code":    {"code <digits>   enter and submit the sms code", s.code},
		"resend":  {"resend          request a new code", s.resend},
		"profile": {"profile <first> <last>  finish a new account", s.profile},
		"back":    {"back            return to the previous step", s.back},
		"me":      {"me              show the signed-in account", s.me},
		"wheel":   {"wheel           show the daily check-in", s.wheel},
		"spin":    {"spin            play today's spin", s.spin},
		"scan":    {"scan [file]     scan a receipt image", s.scan},
		"upgrade": {"upgrade <tier>  move to silver or gold", s.upgrade},
		"buy":     {"buy <dinars> <months>  split a purchase over months", s.buy},
		"deals":   {"deals           list deals", s.deals},
		"deal":    {"deal <id>       open a deal", s.openDeal},
		"store":   {"store <id>      open a store", s.openStore},
		"redeem":  {"redeem <id>     spend points on a deal", s.redeem},
		"logout":  {"logout          sign out (asks first)", s.logout},
		"delete":  {"delete          delete the account (asks first)", s.deleteAccount},
	}
}

func (s *shell) run(ctx context.Context, in *bufio.Scanner) {
	cmds := s.commands()
	fmt.Fprintln(s.out, "TAOO - type 'help' for commands")
	for {
		if req := s.app.Prompts().Current(); req != nil {
			fmt.Fprintf(s.out, "%s [y/N] ", req.Message)
			if !in.Scan() {
				return
			}
			s.answer(ctx, strings.TrimSpace(in.Text()))
			continue
		}
		fmt.Fprintf(s.out, "%s> ", s.prompt())
		if !in.Scan() {
			return
		}
		fields := strings.Fields(in.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return
		case "help":
			for _, name := range sortedKeys(cmds) {
				fmt.Fprintln(s.out, "  "+cmds[name].usage)
			}
			continue
		}
		cmd, ok := cmds[fields[0]]
		if !ok {
			fmt.Fprintf(s.out, "unknown command %q\n", fields[0])
			continue
		}
		if err := cmd.run(ctx, fields[1:]); err != nil {
			fmt.Fprintln(s.out, "error:", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *shell) prompt() string {
	if u, ok := s.app.User(); ok {
		return fmt.Sprintf("%s (%d pts)", u.FirstName, u.Points)
	}
	return s.app.Flow().Step().String()
}

func (s *shell) answer(ctx context.Context, reply string) {
	if strings.EqualFold(reply, "y") || strings.EqualFold(reply, "yes") {
		if err := s.app.Prompts().Resolve(ctx); err != nil {
			fmt.Fprintln(s.out, "error:", err)
		}
		return
	}
	_ = s.app.Prompts().Cancel()
}

func (s *shell) phone(ctx context.Context, args []string) error {
	flow := s.app.Flow()
	normalized := flow.SetPhone(strings.Join(args, ""))
	fmt.Fprintln(s.out, normalized)
	if err := flow.SubmitPhone(ctx); err != nil {
		return err
	}
	if flow.Existing() {
		fmt.Fprintln(s.out, "welcome back, code sent")
	} else {
		fmt.Fprintln(s.out, "code sent")
	}
	return nil
}

func (s *shell) code(ctx context.Context, args []string) error {
	flow := s.app.Flow()
	if len(args) != 1 {
		return errors.New("usage: code <digits>")
	}
	for i, r := range args[0] {
		flow.Input(i, string(r))
	}
	if err := flow.SubmitCode(ctx); err != nil {
		return err
	}
	return s.finish(ctx)
}

func (s *shell) resend(ctx context.Context, _ []string) error {
	flow := s.app.Flow()
	if !flow.CanResend() {
		return fmt.Errorf("resend in %s", flow.ResendIn())
	}
	return flow.Resend(ctx)
}

func (s *shell) profile(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: profile <first> <last>")
	}
	if err := s.app.Flow().SubmitProfile(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
		return err
	}
	return s.finish(ctx)
}

// finish signs in once the flow is done; otherwise it says what comes next.
func (s *shell) finish(ctx context.Context) error {
	flow := s.app.Flow()
	if flow.Step() == authflow.StepProfile {
		fmt.Fprintln(s.out, "new account: profile <first> <last>")
		return nil
	}
	u, err := s.app.CompleteAuth(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "signed in as %s %s\n", u.FirstName, u.LastName)
	return nil
}

func (s *shell) back(context.Context, []string) error {
	s.app.Flow().Back()
	return nil
}

func (s *shell) me(context.Context, []string) error {
	u, ok := s.app.User()
	if !ok {
		return session.ErrNoSession
	}
	fmt.Fprintf(s.out, "%s %s  %s\n", u.FirstName, u.LastName, u.Phone)
	fmt.Fprintf(s.out, "tier %s  points %d  limit %d/%d  referral %s\n",
		u.Level, u.Points, u.UsedThisMonth, u.MonthlyLimit, u.ReferralCode)
	return nil
}

func (s *shell) wheel(context.Context, []string) error {
	state, err := s.app.CheckIn()
	if err != nil {
		return err
	}
	for i, seg := range s.app.Wheel() {
		fmt.Fprintf(s.out, "  %d. %5d pts  %4.1f%%\n", i+1, seg.Value, seg.Probability*100)
	}
	fmt.Fprintf(s.out, "day %d/7  can play: %t  next window %s\n",
		state.CurrentDay, state.CanPlay, state.NextWindow.Format(time.RFC1123))
	return nil
}

func (s *shell) spin(ctx context.Context, _ []string) error {
	res, err := s.app.Spin(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "the wheel turns %.0f°: +%d pts\n", lottery.StopRotation(res.Angle, 5), res.Value)
	return nil
}

func (s *shell) scan(ctx context.Context, args []string) error {
	image := []byte("receipt")
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		image = data
	}
	fmt.Fprintln(s.out, "analyzing...")
	scan, err := s.app.ScanReceipt(ctx, image)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "total %s TND: +%d pts\n", scan.Amount, scan.PointsEarned)
	return nil
}

func (s *shell) upgrade(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: upgrade <silver|gold>")
	}
	u, err := s.app.UpgradeTier(ctx, models.Tier(strings.ToLower(args[0])))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "tier %s, monthly limit %d\n", u.Level, u.MonthlyLimit)
	return nil
}

func (s *shell) buy(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: buy <dinars> <months>")
	}
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	months, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("months: %w", err)
	}
	inst, err := s.app.Purchase(ctx, amount, months)
	if err != nil {
		return err
	}
	u, _ := s.app.User()
	if inst.First != inst.Monthly {
		fmt.Fprintf(s.out, "%d TND now, then ", inst.First)
		inst.Months--
	}
	fmt.Fprintf(s.out, "%d x %d TND, %d TND left this month\n", inst.Months, inst.Monthly, u.AvailableLimit())
	return nil
}

func (s *shell) deals(context.Context, []string) error {
	for _, d := range s.app.Deals() {
		lock := ""
		if d.Locked {
			lock = "  [locked]"
		}
		fmt.Fprintf(s.out, "  %-12s %-32s %5d pts%s\n", d.ID, d.Title, d.PointsCost, lock)
	}
	return nil
}

func (s *shell) openDeal(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: deal <id>")
	}
	return s.render(s.app.Open(catalog.DealDetail{DealID: args[0]}))
}

func (s *shell) openStore(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: store <id>")
	}
	return s.render(s.app.Open(catalog.StoreDetail{StoreID: args[0]}))
}

func (s *shell) render(v catalog.View) error {
	if v.Unavailable {
		fmt.Fprintln(s.out, "this item is no longer available")
		return nil
	}
	if v.Deal != nil {
		fmt.Fprintf(s.out, "%s  -%d%%  %d pts  locked=%t\n", v.Deal.Title, v.Deal.Discount, v.Deal.PointsCost, v.Deal.Locked)
	}
	if v.Store != nil {
		fmt.Fprintf(s.out, "%s (%s)  %s\n", v.Store.Name, v.Store.Category, v.Store.Address)
		for _, d := range v.StoreDeals {
			fmt.Fprintf(s.out, "  %-12s %s\n", d.ID, d.Title)
		}
	}
	return nil
}

func (s *shell) redeem(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: redeem <id>")
	}
	u, err := s.app.Redeem(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "redeemed, %d pts left\n", u.Points)
	return nil
}

func (s *shell) logout(context.Context, []string) error {
	if err := s.requireUser(); err != nil {
		return err
	}
	s.app.RequestLogout()
	return nil
}

func (s *shell) deleteAccount(context.Context, []string) error {
	if err := s.requireUser(); err != nil {
		return err
	}
	s.app.RequestDeleteAccount()
	return nil
}

func (s *shell) requireUser() error {
	if _, ok := s.app.User(); !ok {
		return session.ErrNoSession
	}
	return nil
}

func sortedKeys(cmds map[string]command) []string {
	keys := make([]string, 0, len(cmds))
	for k := range cmds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
