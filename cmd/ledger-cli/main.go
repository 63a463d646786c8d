// Package main is a command-line client for a ledgerd node.
//
// Usage:
//
//	ledger-cli [--rpc URL] [--ws URL] [--keypair FILE] <command> [args]
//
// Amounts are whole-token decimals ("12.5"). Writes are signed with the
// keypair file, a JSON array of the 64 ed25519 key bytes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"token-ledger/internal/api"
	"token-ledger/internal/client"
	"token-ledger/internal/config"
	"token-ledger/internal/domain"
)

// env carries the global flags into a command.
type env struct {
	rpcURL  string
	wsURL   string
	keypair string
}

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"keygen":            {"keygen <file>", runKeygen},
	"address":           {"address", runAddress},
	"balance":           {"balance [address]", runBalance},
	"allowance":         {"allowance <owner> <spender>", runAllowance},
	"supply":            {"supply", runSupply},
	"policy":            {"policy", runPolicy},
	"pending":           {"pending", runPending},
	"transfer":          {"transfer <to> <amount>", runTransfer},
	"approve":           {"approve <spender> <amount>", runApprove},
	"transfer-from":     {"transfer-from <from> <to> <amount>", runTransferFrom},
	"burn":              {"burn <amount>", runBurn},
	"propose-tax":       {"propose-tax <transfer-bps> <sell-bps> <buy-bps>", runProposeTax},
	"apply-tax":         {"apply-tax", governance((*client.HTTPClient).ApplyTax)},
	"cancel-tax":        {"cancel-tax", governance((*client.HTTPClient).CancelTax)},
	"propose-mint":      {"propose-mint <recipient> <amount>", runProposeMint},
	"execute-mint":      {"execute-mint", governance((*client.HTTPClient).ExecuteMint)},
	"cancel-mint":       {"cancel-mint", governance((*client.HTTPClient).CancelMint)},
	"add-pool":          {"add-pool <pool>", pool((*client.HTTPClient).AddPool)},
	"remove-pool":       {"remove-pool <pool>", pool((*client.HTTPClient).RemovePool)},
	"set-fee-recipient": {"set-fee-recipient <address|burn>", runSetFeeRecipient},
	"set-governance":    {"set-governance <address>", runSetGovernance},
	"events":            {"events [--from N] [--to N] [--limit N] [--account ADDR]", runEvents},
	"tax-totals":        {"tax-totals [--since DURATION]", runTaxTotals},
	"watch":             {"watch [--account ADDR] [--kind KIND]", runWatch},
}

func main() {
	config.LoadEnvFile(".env")

	rpcURL := flag.String("rpc", config.EnvOr("LEDGER_RPC_URL", "http://localhost:8899/rpc"), "ledgerd JSON-RPC endpoint")
	wsURL := flag.String("ws", config.EnvOr("LEDGER_WS_URL", "ws://localhost:8899/ws"), "ledgerd websocket endpoint")
	keypair := flag.String("keypair", config.EnvOr("LEDGER_KEYPAIR", "id.json"), "Signing keypair file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	e := &env{rpcURL: *rpcURL, wsURL: *wsURL, keypair: *keypair}
	if err := cmd.run(ctx, e, flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Usage: ledger-cli %s\n", cmd.usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: ledger-cli [flags] <command> [args]")
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "\nCommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}

var errUsage = errors.New("wrong arguments")

func wantArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: expected %d, got %d", errUsage, n, len(args))
	}
	return nil
}

// reader returns an unsigned client.
func (e *env) reader() *client.HTTPClient {
	return client.NewHTTPClient(e.rpcURL)
}

// writer returns a client that signs with the keypair file.
func (e *env) writer() (*client.HTTPClient, error) {
	key, err := client.LoadKeypair(e.keypair)
	if err != nil {
		return nil, err
	}
	return client.NewHTTPClient(e.rpcURL, client.WithKey(key)), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEvents(events []*domain.Event) error {
	return printJSON(api.NewEvents(events))
}

func parseAddressArg(s string) (domain.Address, error) {
	a, err := domain.ParseAddress(s)
	if err != nil {
		return a, fmt.Errorf("address %q: %w", s, err)
	}
	return a, nil
}

func parseTokensArg(s string) (*domain.Amount, error) {
	a, err := domain.ParseTokens(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	return a, nil
}

// parseFeeRecipient accepts an address or the burn keyword.
func parseFeeRecipient(s string) (domain.Address, error) {
	if strings.EqualFold(strings.TrimSpace(s), config.BurnKeyword) {
		return domain.BurnAddress, nil
	}
	return parseAddressArg(s)
}

// parsePolicy reads transfer, sell and buy rates in basis points.
func parsePolicy(args []string) (domain.TaxPolicy, error) {
	var p domain.TaxPolicy
	if err := wantArgs(args, 3); err != nil {
		return p, err
	}
	rates := make([]uint16, 3)
	for i, s := range args {
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return p, fmt.Errorf("rate %q: %w", s, err)
		}
		rates[i] = uint16(v)
	}
	p.Transfer, p.Sell, p.Buy = rates[0], rates[1], rates[2]
	return p, nil
}

func runKeygen(_ context.Context, _ *env, args []string) error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	if _, err := os.Stat(args[0]); err == nil {
		return fmt.Errorf("%s already exists", args[0])
	}
	key, err := client.GenerateKeypair()
	if err != nil {
		return err
	}
	if err := client.SaveKeypair(args[0], key); err != nil {
		return err
	}
	fmt.Println(client.AddressOf(key))
	return nil
}

func runAddress(_ context.Context, e *env, args []string) error {
	if err := wantArgs(args, 0); err != nil {
		return err
	}
	key, err := client.LoadKeypair(e.keypair)
	if err != nil {
		return err
	}
	fmt.Println(client.AddressOf(key))
	return nil
}

func runBalance(ctx context.Context, e *env, args []string) error {
	var addr domain.Address
	switch len(args) {
	case 0:
		key, err := client.LoadKeypair(e.keypair)
		if err != nil {
			return err
		}
		addr = client.AddressOf(key)
	case 1:
		var err error
		if addr, err = parseAddressArg(args[0]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: expected at most 1", errUsage)
	}
	bal, err := e.reader().Balance(ctx, addr)
	if err != nil {
		return err
	}
	fmt.Println(domain.FormatTokens(bal))
	return nil
}

func runAllowance(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}
	owner, err := parseAddressArg(args[0])
	if err != nil {
		return err
	}
	spender, err := parseAddressArg(args[1])
	if err != nil {
		return err
	}
	a, err := e.reader().Allowance(ctx, owner, spender)
	if err != nil {
		return err
	}
	fmt.Println(domain.FormatTokens(a))
	return nil
}

func runSupply(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 0); err != nil {
		return err
	}
	s, err := e.reader().Supply(ctx)
	if err != nil {
		return err
	}
	return printJSON(s)
}

func runPolicy(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 0); err != nil {
		return err
	}
	c := e.reader()
	p, err := c.Policy(ctx)
	if err != nil {
		return err
	}
	gov, err := c.Governance(ctx)
	if err != nil {
		return err
	}
	pools, err := c.Pools(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"policy": p, "governance": gov, "pools": pools})
}

func runPending(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 0); err != nil {
		return err
	}
	c := e.reader()
	tax, err := c.PendingTax(ctx)
	if err != nil {
		return err
	}
	mint, err := c.PendingMint(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"tax": tax, "mint": mint})
}

func runTransfer(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}
	to, err := parseAddressArg(args[0])
	if err != nil {
		return err
	}
	amount, err := parseTokensArg(args[1])
	if err != nil {
		return err
	}
	c, err := e.writer()
	if err != nil {
		return err
	}
	events, err := c.Transfer(ctx, to, amount)
	if err != nil {
		return err
	}
	return printEvents(events)
}

func runApprove(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}
	spender, err := parseAddressArg(args[0])
	if err != nil {
		return err
	}
	amount, err := parseTokensArg(args[1])
	if err != nil {
		return err
	}
	c, err := e.writer()
	if err != nil {
		return err
	}
	events, err := c.Approve(ctx, spender, amount)
	if err != nil {
		return err
	}
	return printEvents(events)
}

func runTransferFrom(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 3); err != nil {
		return err
	}
	from, err := parseAddressArg(args[0])
	if err != nil {
		return err
	}
	to, err := parseAddressArg(args[1])
	if err != nil {
		return err
	}
	amount, err := parseTokensArg(args[2])
	if err != nil {
		return err
	}
	c, err := e.writer()
	if err != nil {
		return err
	}
	events, err := c.TransferFrom(ctx, from, to, amount)
	if err != nil {
		return err
	}
	return printEvents(events)
}

func runBurn(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	amount, err := parseTokensArg(args[0])
	if err != nil {
		return err
	}
	c, err := e.writer()
	if err != nil {
		return err
	}
	events, err := c.Burn(ctx, amount)
	if err != nil {
		return err
	}
	return printEvents(events)
}

func runProposeTax(ctx context.Context, e *env, args []string) error {
	policy, err := parsePolicy(args)
	if err != nil {
		return err
	}
	c, err := e.writer()
	if err != nil {
		return err
	}
	events, err := c.ProposeTax(ctx, policy)
	if err != nil {
		return err
	}
	return printEvents(events)
}

func runProposeMint(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}
	recipient, err := parseAddressArg(args[0])
	if err != nil {
		return err
	}
	amount, err := parseTokensArg(args[1])
	if err != nil {
		return err
	}
	c, err := e.writer()
	if err != nil {
		return err
	}
	events, err := c.ProposeMint(ctx, recipient, amount)
	if err != nil {
		return err
	}
	return printEvents(events)
}

func runSetFeeRecipient(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	recipient, err := parseFeeRecipient(args[0])
	if err != nil {
		return err
	}
	c, err := e.writer()
	if err != nil {
		return err
	}
	events, err := c.SetFeeRecipient(ctx, recipient)
	if err != nil {
		return err
	}
	return printEvents(events)
}

func runSetGovernance(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	next, err := parseAddressArg(args[0])
	if err != nil {
		return err
	}
	c, err := e.writer()
	if err != nil {
		return err
	}
	events, err := c.SetGovernance(ctx, next)
	if err != nil {
		return err
	}
	return printEvents(events)
}

// governance adapts an argument-less governance write into a command.
func governance(op func(*client.HTTPClient, context.Context) ([]*domain.Event, error)) func(context.Context, *env, []string) error {
	return func(ctx context.Context, e *env, args []string) error {
		if err := wantArgs(args, 0); err != nil {
			return err
		}
		c, err := e.writer()
		if err != nil {
			return err
		}
		events, err := op(c, ctx)
		if err != nil {
			return err
		}
		return printEvents(events)
	}
}

// pool adapts a pool registry write into a command.
func pool(op func(*client.HTTPClient, context.Context, domain.Address) ([]*domain.Event, error)) func(context.Context, *env, []string) error {
	return func(ctx context.Context, e *env, args []string) error {
		if err := wantArgs(args, 1); err != nil {
			return err
		}
		addr, err := parseAddressArg(args[0])
		if err != nil {
			return err
		}
		c, err := e.writer()
		if err != nil {
			return err
		}
		events, err := op(c, ctx, addr)
		if err != nil {
			return err
		}
		return printEvents(events)
	}
}

func runEvents(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	from := fs.Uint64("from", 0, "First seq (default 1)")
	to := fs.Uint64("to", 0, "Last seq (default head)")
	limit := fs.Int("limit", 100, "Maximum events")
	account := fs.String("account", "", "Only events touching this address")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	c := e.reader()
	var (
		events []*domain.Event
		err    error
	)
	if *account != "" {
		addr, perr := parseAddressArg(*account)
		if perr != nil {
			return perr
		}
		events, err = c.AccountEvents(ctx, addr, *limit)
	} else {
		events, err = c.Events(ctx, *from, *to, *limit)
	}
	if err != nil {
		return err
	}
	return printEvents(events)
}

func runTaxTotals(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("tax-totals", flag.ContinueOnError)
	since := fs.Duration("since", 7*24*time.Hour, "Window ending now")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	end := time.Now()
	totals, err := e.reader().TaxTotals(ctx, end.Add(-*since).UnixMilli(), end.UnixMilli())
	if err != nil {
		return err
	}
	return printJSON(totals)
}

// runWatch streams matching events as JSON lines until interrupted.
func runWatch(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	account := fs.String("account", "", "Only events touching this address")
	kind := fs.String("kind", "", "Comma-separated event kinds")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	var filter api.SubscribeParams
	if *account != "" {
		if _, err := parseAddressArg(*account); err != nil {
			return err
		}
		filter.Accounts = []string{*account}
	}
	for _, k := range strings.Split(*kind, ",") {
		if k = strings.TrimSpace(k); k != "" {
			filter.Kinds = append(filter.Kinds, strings.ToUpper(k))
		}
	}

	ws, err := client.NewWSClient(ctx, e.wsURL, nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ch, err := ws.Subscribe(ctx, filter)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return errors.New("event feed closed")
			}
			if err := enc.Encode(api.NewEvent(ev)); err != nil {
				return err
			}
		}
	}
}
