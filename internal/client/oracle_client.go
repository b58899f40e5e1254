package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"services/trading-simulation-service/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OracleResponse is the outcome of one oracle call. Decision is nil for
// a hold; token/cost usage is attached to every parsed response.
type OracleResponse struct {
	Decision   *model.Decision
	TokensUsed int
	Cost       decimal.Decimal
}

// OracleClient calls the LLM gateway to obtain trading decisions. It is
// stateless; the per-call timeout is enforced by the caller's context.
type OracleClient struct {
	baseURL     string
	apiKey      string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *zap.Logger
}

// OracleClientOptions configures an OracleClient
type OracleClientOptions struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// NewOracleClient creates a new decision oracle client
func NewOracleClient(opts OracleClientOptions, logger *zap.Logger) *OracleClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 500
	}

	return &OracleClient{
		baseURL:     opts.BaseURL,
		apiKey:      opts.APIKey,
		maxTokens:   maxTokens,
		temperature: opts.Temperature,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Cost per 1K tokens (combined prompt+completion), USD. Unknown model
// keys fall back to the default rate.
var modelCostPer1K = map[string]decimal.Decimal{
	"deepseek": decimal.NewFromFloat(0.0014),
	"minimax":  decimal.NewFromFloat(0.0010),
	"claude":   decimal.NewFromFloat(0.0120),
	"openai":   decimal.NewFromFloat(0.0100),
}

var defaultCostPer1K = decimal.NewFromFloat(0.0020)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// rawDecision is the JSON shape the oracle is instructed to answer with
type rawDecision struct {
	Action         string  `json:"action"`
	QuantityShares float64 `json:"quantity_shares"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// Decide requests a trading decision for one simulated day. A transport
// error or unparsable reply is returned as an error; the caller treats
// it as a hold. A well-formed hold returns a response with nil Decision.
func (c *OracleClient) Decide(
	ctx context.Context,
	req model.DecisionRequest,
) (*OracleResponse, error) {
	prompt := buildPrompt(req)

	body, err := json.Marshal(chatRequest{
		Model:       req.ModelKey,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal oracle request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v1/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oracle call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.logger.Warn("Oracle returned error status",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(bodyBytes)))
		return nil, fmt.Errorf("oracle returned status code %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("failed to decode oracle response: %w", err)
	}

	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("oracle returned no choices")
	}

	tokens := chat.Usage.TotalTokens
	if tokens == 0 {
		tokens = chat.Usage.PromptTokens + chat.Usage.CompletionTokens
	}
	cost := costFor(req.ModelKey, tokens)

	decision, err := ParseDecision(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	result := &OracleResponse{
		TokensUsed: tokens,
		Cost:       cost,
	}

	if decision != nil {
		decision.TokensUsed = tokens
		decision.LLMCost = cost
		result.Decision = decision
	}

	return result, nil
}

// ParseDecision extracts a trade decision from the oracle's reply text.
// A hold, or an action outside buy/sell/hold, yields a nil decision.
// Malformed JSON is an error so the caller can log the failure.
func ParseDecision(content string) (*model.Decision, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code fences if present
	if idx := strings.Index(content, "```json"); idx >= 0 {
		content = content[idx+len("```json"):]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	} else if idx := strings.Index(content, "```"); idx >= 0 {
		content = content[idx+len("```"):]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	}
	content = strings.TrimSpace(content)

	var raw rawDecision
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse oracle decision: %w", err)
	}

	action := strings.ToLower(raw.Action)
	if action != string(model.ActionBuy) && action != string(model.ActionSell) {
		// hold, or anything unrecognized, is a hold
		return nil, nil
	}

	if raw.QuantityShares <= 0 {
		return nil, nil
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	reasoning := raw.Reasoning
	if reasoning == "" {
		reasoning = "No reasoning provided"
	}

	return &model.Decision{
		Action:     model.TradeAction(action),
		Quantity:   decimal.NewFromFloat(raw.QuantityShares),
		Confidence: decimal.NewFromFloat(confidence),
		Reasoning:  reasoning,
	}, nil
}

func costFor(modelKey string, tokens int) decimal.Decimal {
	rate, ok := modelCostPer1K[modelKey]
	if !ok {
		rate = defaultCostPer1K
	}
	return rate.Mul(decimal.NewFromInt(int64(tokens))).Div(decimal.NewFromInt(1000)).Round(6)
}

// buildPrompt renders the portfolio state and trailing price window into
// the oracle prompt
func buildPrompt(req model.DecisionRequest) string {
	var sb strings.Builder

	positionValue := req.Shares.Mul(req.CurrentPrice)
	totalValue := req.CashBalance.Add(positionValue)

	sb.WriteString("You are an AI trading agent managing a stock portfolio.\n\n")
	sb.WriteString("**Current Portfolio Status:**\n")
	fmt.Fprintf(&sb, "- Symbol: %s\n", req.Symbol)
	fmt.Fprintf(&sb, "- Cash Balance: %s %s\n", req.CashBalance.StringFixed(2), req.Currency)
	fmt.Fprintf(&sb, "- Current Shares: %s\n", req.Shares.StringFixed(6))
	fmt.Fprintf(&sb, "- Current Price: %s\n", req.CurrentPrice.StringFixed(2))
	fmt.Fprintf(&sb, "- Position Value: %s\n", positionValue.StringFixed(2))
	fmt.Fprintf(&sb, "- Total Portfolio Value: %s\n\n", totalValue.StringFixed(2))

	sb.WriteString("**Recent Price History:**\n")
	history := req.PriceHistory
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	for _, k := range history {
		fmt.Fprintf(&sb, "Date: %s, O:%.2f, H:%.2f, L:%.2f, C:%.2f, V:%.0f\n",
			k.Date.Format("2006-01-02"), k.Open, k.High, k.Low, k.Close, k.Volume)
	}

	sb.WriteString("\n**Today's Price:**\n")
	fmt.Fprintf(&sb, "- Date: %s\n", req.Today.Date.Format("2006-01-02"))
	fmt.Fprintf(&sb, "- Open: %.2f\n", req.Today.Open)
	fmt.Fprintf(&sb, "- High: %.2f\n", req.Today.High)
	fmt.Fprintf(&sb, "- Low: %.2f\n", req.Today.Low)
	fmt.Fprintf(&sb, "- Close: %.2f\n", req.Today.Close)
	fmt.Fprintf(&sb, "- Volume: %.0f\n\n", req.Today.Volume)

	sb.WriteString("**Trading Rules:**\n")
	fmt.Fprintf(&sb, "- Maximum position size: %.0f%% of portfolio\n", req.Config.MaxPositionSize*100)
	fmt.Fprintf(&sb, "- Stop loss: %.0f%%, take profit: %.0f%%\n", req.Config.StopLossPct*100, req.Config.TakeProfitPct*100)
	fmt.Fprintf(&sb, "- Risk tolerance: %s\n", req.Config.RiskTolerance)
	sb.WriteString("- You can BUY, SELL, or HOLD\n")
	sb.WriteString("- Consider technical indicators, trend, volume\n")
	sb.WriteString("- Provide clear reasoning for your decision\n\n")

	sb.WriteString("**Please respond in EXACTLY this JSON format:**\n")
	sb.WriteString("{\n")
	sb.WriteString("  \"action\": \"buy\" or \"sell\" or \"hold\",\n")
	sb.WriteString("  \"quantity_shares\": <number of shares to trade, 0 if hold>,\n")
	sb.WriteString("  \"confidence\": <0.0 to 1.0>,\n")
	sb.WriteString("  \"reasoning\": \"<detailed explanation of your decision>\"\n")
	sb.WriteString("}\n\n")
	sb.WriteString("Decision:")

	return sb.String()
}
