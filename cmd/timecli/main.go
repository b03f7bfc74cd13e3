// Command timecli is the operator CLI for a running masternode node.
// Every subcommand is a thin wrapper over the node's HTTP API; exit
// code is 0 on success, non-zero on any error.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/timecoin/node/internal/cliutil"
	"github.com/timecoin/node/pkg/models"
)

type globalOptions struct {
	API  string `long:"api" description:"Base URL of the node API" default:"http://localhost:5339"`
	JSON bool   `long:"json" description:"Print raw JSON responses"`
}

var opts globalOptions

type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient() *client {
	return &client{
		base:  opts.API,
		token: os.Getenv("API_AUTH_TOKEN"),
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Message != "" {
				return nil, fmt.Errorf("%s: %s", apiErr.Error, apiErr.Message)
			}
			return nil, fmt.Errorf("%s", apiErr.Error)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)
	}
	return data, nil
}

// emit either dumps the raw response (--json) or hands it to render
// for human output.
func emit(data []byte, render func() error) error {
	if opts.JSON {
		fmt.Println(string(data))
		return nil
	}
	return render()
}

type infoCmd struct{}

func (cmd *infoCmd) Execute(_ []string) error {
	data, err := newClient().do(http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	var out struct {
		Status          string `json:"status"`
		CurrentHeight   uint64 `json:"currentHeight"`
		MasternodeCount int    `json:"masternodeCount"`
		MempoolSize     int    `json:"mempoolSize"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	return emit(data, func() error {
		fmt.Printf("status:       %s\n", out.Status)
		fmt.Printf("height:       %d\n", out.CurrentHeight)
		fmt.Printf("masternodes:  %d\n", out.MasternodeCount)
		fmt.Printf("mempool size: %d\n", out.MempoolSize)
		return nil
	})
}

type blocksCmd struct {
	Count uint64 `long:"count" description:"How many recent blocks to show" default:"10"`
}

func (cmd *blocksCmd) Execute(_ []string) error {
	c := newClient()
	data, err := c.do(http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	var health struct {
		CurrentHeight uint64 `json:"currentHeight"`
	}
	if err := json.Unmarshal(data, &health); err != nil {
		return err
	}

	start := uint64(0)
	if health.CurrentHeight >= cmd.Count {
		start = health.CurrentHeight - cmd.Count + 1
	}
	for h := start; h <= health.CurrentHeight; h++ {
		blockData, err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/blocks/%d", h), nil)
		if err != nil {
			return err
		}
		if opts.JSON {
			fmt.Println(string(blockData))
			continue
		}
		var b models.Block
		if err := json.Unmarshal(blockData, &b); err != nil {
			return err
		}
		fmt.Printf("block %d  %s  txs=%d  producer=%s\n",
			b.Header.BlockNumber, b.Hash, len(b.Transactions), b.Header.ProducerID)
	}
	return nil
}

type balanceCmd struct {
	Args struct {
		Address string `positional-arg-name:"address" required:"yes"`
	} `positional-args:"yes"`
}

func (cmd *balanceCmd) Execute(_ []string) error {
	data, err := newClient().do(http.MethodGet, "/api/v1/balance/"+cmd.Args.Address, nil)
	if err != nil {
		return err
	}
	var out struct {
		Address   string `json:"address"`
		Balance   uint64 `json:"balance"`
		Available uint64 `json:"available"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	return emit(data, func() error {
		fmt.Printf("address:   %s\n", out.Address)
		fmt.Printf("balance:   %s\n", cliutil.FormatAmount(out.Balance))
		fmt.Printf("available: %s\n", cliutil.FormatAmount(out.Available))
		return nil
	})
}

type peersCmd struct{}

func (cmd *peersCmd) Execute(_ []string) error {
	data, err := newClient().do(http.MethodGet, "/api/v1/peers", nil)
	if err != nil {
		return err
	}
	var out struct {
		Peers []models.Masternode `json:"peers"`
		Count int                 `json:"count"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	return emit(data, func() error {
		for _, p := range out.Peers {
			fmt.Printf("%s  tier=%s  state=%s  collateral=%s\n",
				p.ID, p.Tier, p.State, cliutil.FormatAmount(p.Collateral))
		}
		fmt.Printf("%d peer(s)\n", out.Count)
		return nil
	})
}

type mempoolStatusCmd struct{}

func (cmd *mempoolStatusCmd) Execute(_ []string) error {
	data, err := newClient().do(http.MethodGet, "/api/v1/mempool", nil)
	if err != nil {
		return err
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	return emit(data, func() error {
		fmt.Printf("%d pending transaction(s)\n", out.Count)
		return nil
	})
}

type mempoolListCmd struct{}

func (cmd *mempoolListCmd) Execute(_ []string) error {
	data, err := newClient().do(http.MethodGet, "/api/v1/mempool", nil)
	if err != nil {
		return err
	}
	var out struct {
		Entries []models.MempoolEntry `json:"entries"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	return emit(data, func() error {
		for _, e := range out.Entries {
			fmt.Printf("%s  outputs=%d  total=%s  inserted=%s\n",
				e.Tx.Txid, len(e.Tx.Outputs), cliutil.FormatAmount(e.Tx.TotalOutput()),
				e.InsertedAt.Format(time.RFC3339))
		}
		return nil
	})
}

type mempoolClearCmd struct{}

func (cmd *mempoolClearCmd) Execute(_ []string) error {
	data, err := newClient().do(http.MethodDelete, "/api/v1/mempool", nil)
	if err != nil {
		return err
	}
	return emit(data, func() error {
		fmt.Println("mempool cleared")
		return nil
	})
}

type mempoolCmd struct {
	Status mempoolStatusCmd `command:"status" description:"Show pending transaction count"`
	List   mempoolListCmd   `command:"list" description:"List pending transactions"`
	Clear  mempoolClearCmd  `command:"clear" description:"Evict every pending transaction"`
}

type treasuryInfoCmd struct{}

func (cmd *treasuryInfoCmd) Execute(_ []string) error {
	data, err := newClient().do(http.MethodGet, "/api/v1/treasury/info", nil)
	if err != nil {
		return err
	}
	var out struct {
		ProposalCount int `json:"proposalCount"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	return emit(data, func() error {
		fmt.Printf("%d proposal(s)\n", out.ProposalCount)
		return nil
	})
}

type treasuryListCmd struct{}

func (cmd *treasuryListCmd) Execute(_ []string) error {
	data, err := newClient().do(http.MethodGet, "/api/v1/treasury/proposals", nil)
	if err != nil {
		return err
	}
	var out struct {
		Proposals []models.Proposal `json:"proposals"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	return emit(data, func() error {
		for _, p := range out.Proposals {
			fmt.Printf("%s  %s  %s -> %s  status=%s\n",
				p.ID, cliutil.FormatAmount(p.Amount), p.Proposer, p.Recipient, p.Status)
		}
		return nil
	})
}

type treasuryProposeCmd struct {
	Proposer  string `long:"proposer" required:"yes" description:"Proposing masternode ID"`
	Recipient string `long:"recipient" required:"yes" description:"Grant recipient address"`
	Amount    string `long:"amount" required:"yes" description:"Grant amount in TIME"`
	Reason    string `long:"reason" required:"yes" description:"Grant justification"`
}

func (cmd *treasuryProposeCmd) Execute(_ []string) error {
	amount, err := cliutil.ParseAmount(cmd.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", cmd.Amount, err)
	}
	data, err := newClient().do(http.MethodPost, "/api/v1/treasury/proposals", map[string]any{
		"proposer":  cmd.Proposer,
		"recipient": cmd.Recipient,
		"amount":    amount,
		"reason":    cmd.Reason,
	})
	if err != nil {
		return err
	}
	var p models.Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	return emit(data, func() error {
		fmt.Printf("created proposal %s\n", p.ID)
		return nil
	})
}

type treasuryVoteCmd struct {
	Voter   string `long:"voter" required:"yes" description:"Voting masternode ID"`
	Approve bool   `long:"approve" description:"Vote to approve (omit to reject)"`
	Args    struct {
		ProposalID string `positional-arg-name:"proposal-id" required:"yes"`
	} `positional-args:"yes"`
}

func (cmd *treasuryVoteCmd) Execute(_ []string) error {
	data, err := newClient().do(http.MethodPost, "/api/v1/treasury/proposals/"+cmd.Args.ProposalID+"/vote", map[string]any{
		"voterId": cmd.Voter,
		"approve": cmd.Approve,
	})
	if err != nil {
		return err
	}
	return emit(data, func() error {
		fmt.Println("vote recorded")
		return nil
	})
}

type treasuryGetCmd struct {
	Args struct {
		ProposalID string `positional-arg-name:"proposal-id" required:"yes"`
	} `positional-args:"yes"`
}

func (cmd *treasuryGetCmd) Execute(_ []string) error {
	data, err := newClient().do(http.MethodGet, "/api/v1/treasury/proposals/"+cmd.Args.ProposalID, nil)
	if err != nil {
		return err
	}
	var p models.Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	return emit(data, func() error {
		fmt.Printf("id:        %s\n", p.ID)
		fmt.Printf("proposer:  %s\n", p.Proposer)
		fmt.Printf("recipient: %s\n", p.Recipient)
		fmt.Printf("amount:    %s\n", cliutil.FormatAmount(p.Amount))
		fmt.Printf("status:    %s\n", p.Status)
		fmt.Printf("reason:    %s\n", p.Reason)
		fmt.Printf("deadline:  %s\n", p.VotingDeadline.Format(time.RFC3339))
		fmt.Printf("votes:     %d for, %d against\n", len(p.VotesFor), len(p.VotesAgainst))
		return nil
	})
}

type treasuryCmd struct {
	Info          treasuryInfoCmd    `command:"info" description:"Show treasury summary"`
	ListProposals treasuryListCmd    `command:"list-proposals" description:"List grant proposals"`
	Propose       treasuryProposeCmd `command:"propose" description:"Create a grant proposal"`
	Vote          treasuryVoteCmd    `command:"vote" description:"Vote on a grant proposal"`
	GetProposal   treasuryGetCmd     `command:"get-proposal" description:"Show one proposal in full"`
}

func main() {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = "time-coin node CLI"

	mustAdd := func(name, short string, cmd any) {
		if _, err := parser.AddCommand(name, short, "", cmd); err != nil {
			fmt.Fprintf(os.Stderr, "timecli: %v\n", err)
			os.Exit(1)
		}
	}
	mustAdd("info", "Show node status", &infoCmd{})
	mustAdd("blocks", "List recent blocks", &blocksCmd{})
	mustAdd("balance", "Show an address balance", &balanceCmd{})
	mustAdd("peers", "List known masternodes", &peersCmd{})
	mustAdd("mempool", "Inspect or clear the mempool", &mempoolCmd{})
	mustAdd("treasury", "Treasury and grant governance", &treasuryCmd{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "timecli: %v\n", err)
		os.Exit(1)
	}
}
