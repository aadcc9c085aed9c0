// Package services provides external service integrations for the settlement engine
package services

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// transferGasLimit is the fixed gas limit of a plain value transfer
const transferGasLimit = 21000

// ChainTx is a chain transaction as observed by the client
type ChainTx struct {
	Hash        string
	From        string
	To          string
	Amount      *big.Int // wei
	GasUsed     uint64
	BlockNumber uint64
	BlockTime   time.Time
	Success     bool
}

// ChainClient abstracts the blockchain node. All amounts are wei.
type ChainClient interface {
	// GetBalance returns the confirmed balance of an address
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	// CurrentBlock returns the latest block number
	CurrentBlock(ctx context.Context) (uint64, error)
	// ScanIncoming returns transfers into address within [fromBlock, toBlock]
	ScanIncoming(ctx context.Context, address string, fromBlock, toBlock uint64) ([]ChainTx, error)
	// TransactionByHash resolves a single transaction, nil if unknown to the chain
	TransactionByHash(ctx context.Context, hash string) (*ChainTx, error)
	// EstimateSweepGas returns the current cost in wei of a plain transfer
	EstimateSweepGas(ctx context.Context) (*big.Int, error)
	// SubmitTransfer signs and broadcasts a transfer of amount wei from the
	// wallet holding privateKeyHex to the destination address, then blocks
	// until the transaction is mined or ctx is done.
	SubmitTransfer(ctx context.Context, privateKeyHex, to string, amount *big.Int) (*ChainTx, error)
}

// ethChainClient implements ChainClient against a JSON-RPC Ethereum-family node
type ethChainClient struct {
	client  *ethclient.Client
	chainID *big.Int
	logger  *log.Logger

	// receiptPollInterval controls how often SubmitTransfer polls for the receipt
	receiptPollInterval time.Duration
}

// NewEthChainClient dials the node and caches the chain ID for signing
func NewEthChainClient(ctx context.Context, rawURL string, logger *log.Logger) (ChainClient, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain node %s: %w", rawURL, err)
	}

	chainID, err := client.NetworkID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to fetch chain ID: %w", err)
	}

	return &ethChainClient{
		client:              client,
		chainID:             chainID,
		logger:              logger,
		receiptPollInterval: 3 * time.Second,
	}, nil
}

func (c *ethChainClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	balance, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance of %s: %w", address, err)
	}
	return balance, nil
}

func (c *ethChainClient) CurrentBlock(ctx context.Context) (uint64, error) {
	number, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch current block number: %w", err)
	}
	return number, nil
}

func (c *ethChainClient) ScanIncoming(ctx context.Context, address string, fromBlock, toBlock uint64) ([]ChainTx, error) {
	target := common.HexToAddress(address)
	signer := types.LatestSignerForChainID(c.chainID)

	var found []ChainTx
	for n := fromBlock; n <= toBlock; n++ {
		block, err := c.client.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch block %d: %w", n, err)
		}

		blockTime := time.Unix(int64(block.Time()), 0).UTC()
		for _, tx := range block.Transactions() {
			if tx.To() == nil || *tx.To() != target {
				continue
			}

			from, err := types.Sender(signer, tx)
			if err != nil {
				c.logger.Printf("WARN cannot recover sender of tx %s: %v", tx.Hash().Hex(), err)
				continue
			}

			receipt, err := c.client.TransactionReceipt(ctx, tx.Hash())
			if err != nil {
				return nil, fmt.Errorf("failed to fetch receipt of %s: %w", tx.Hash().Hex(), err)
			}

			found = append(found, ChainTx{
				Hash:        tx.Hash().Hex(),
				From:        from.Hex(),
				To:          target.Hex(),
				Amount:      new(big.Int).Set(tx.Value()),
				GasUsed:     receipt.GasUsed,
				BlockNumber: n,
				BlockTime:   blockTime,
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
			})
		}
	}

	return found, nil
}

func (c *ethChainClient) TransactionByHash(ctx context.Context, hash string) (*ChainTx, error) {
	txHash := common.HexToHash(hash)

	tx, pending, err := c.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", hash, err)
	}
	if pending {
		return nil, nil // not mined yet, caller retries on the next cycle
	}

	receipt, err := c.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt of %s: %w", hash, err)
	}

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender of %s: %w", hash, err)
	}

	to := ""
	if tx.To() != nil {
		to = tx.To().Hex()
	}

	var blockTime time.Time
	header, err := c.client.HeaderByHash(ctx, receipt.BlockHash)
	if err == nil {
		blockTime = time.Unix(int64(header.Time), 0).UTC()
	}

	return &ChainTx{
		Hash:        tx.Hash().Hex(),
		From:        from.Hex(),
		To:          to,
		Amount:      new(big.Int).Set(tx.Value()),
		GasUsed:     receipt.GasUsed,
		BlockNumber: receipt.BlockNumber.Uint64(),
		BlockTime:   blockTime,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}, nil
}

func (c *ethChainClient) EstimateSweepGas(ctx context.Context) (*big.Int, error) {
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	return new(big.Int).Mul(gasPrice, big.NewInt(transferGasLimit)), nil
}

func (c *ethChainClient) SubmitTransfer(ctx context.Context, privateKeyHex, to string, amount *big.Int) (*ChainTx, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse wallet key: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce of %s: %w", from.Hex(), err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, common.HexToAddress(to), amount, transferGasLimit, gasPrice, nil)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transfer: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to broadcast transfer from %s: %w", from.Hex(), err)
	}

	c.logger.Printf("broadcast sweep tx=%s from=%s to=%s amount=%s", signed.Hash().Hex(), from.Hex(), to, amount.String())

	return c.waitMined(ctx, signed, from.Hex(), to, amount)
}

// waitMined polls for the receipt until the transaction lands in a block
func (c *ethChainClient) waitMined(ctx context.Context, tx *types.Transaction, from, to string, amount *big.Int) (*ChainTx, error) {
	ticker := time.NewTicker(c.receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, tx.Hash())
		if err == nil && receipt != nil {
			return &ChainTx{
				Hash:        tx.Hash().Hex(),
				From:        from,
				To:          to,
				Amount:      new(big.Int).Set(amount),
				GasUsed:     receipt.GasUsed,
				BlockNumber: receipt.BlockNumber.Uint64(),
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transfer %s not mined before deadline: %w", tx.Hash().Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
