package main

import (
	"context"
	"fmt"
	"os"

	"github.com/anantaryaaa/health-record-dapps-sub001/common/logger"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/chain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/codec"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/config"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/contentstore"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/metatx"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/records"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// app 按需构建依赖；子命令只初始化自己用到的部分
type app struct {
	cfg    *config.Config
	keyHex string
	logger *zap.Logger

	client *ethclient.Client
}

func newApp() *app {
	return &app{cfg: config.Load(), logger: zap.NewNop()}
}

func (a *app) setup(level string) error {
	if level == "" {
		return nil
	}
	log, err := logger.NewLogger(level, "console", "medvault-cli")
	if err != nil {
		return err
	}
	a.logger = log
	return nil
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
	}
	_ = a.logger.Sync()
}

func (a *app) signer() (metatx.Signer, error) {
	keyHex := a.keyHex
	if keyHex == "" {
		keyHex = os.Getenv("MEDVAULT_KEY")
	}
	if keyHex == "" {
		return nil, fmt.Errorf("a signing key is required (--key or MEDVAULT_KEY)")
	}
	key, err := chain.ParsePrivateKey(keyHex)
	if err != nil {
		return nil, err
	}
	return metatx.NewPrivateKeySigner(key), nil
}

func (a *app) contracts() (chain.Contracts, error) {
	return chain.ParseContracts(a.cfg.Chain.IdentityRegistry, a.cfg.Chain.AccessControl, a.cfg.Chain.HospitalRegistry)
}

func (a *app) dial(ctx context.Context) (*ethclient.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := chain.Dial(ctx, a.cfg.Chain.RPCURL)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// gateway 只读；withWallet 时用 CHAIN_WALLET_KEY 直接写链（管理员操作）
func (a *app) gateway(ctx context.Context, withWallet bool) (*chain.Gateway, error) {
	contracts, err := a.contracts()
	if err != nil {
		return nil, err
	}
	c, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	var transactor *chain.Transactor
	if withWallet {
		if a.cfg.Chain.WalletKey == "" {
			return nil, fmt.Errorf("CHAIN_WALLET_KEY is required for direct chain writes")
		}
		key, err := chain.ParsePrivateKey(a.cfg.Chain.WalletKey)
		if err != nil {
			return nil, err
		}
		transactor = chain.NewTransactor(c, key, a.cfg.Chain.ChainID)
	}
	return chain.NewGateway(c, contracts, transactor, a.cfg.Chain.Timeout, a.logger), nil
}

func (a *app) relayClient() (*metatx.Client, error) {
	contracts, err := a.contracts()
	if err != nil {
		return nil, err
	}
	forwarder, err := chain.ParseAddress(a.cfg.Chain.ForwarderAddress)
	if err != nil {
		return nil, fmt.Errorf("forwarder: %w", err)
	}
	return metatx.NewClient(metatx.Options{
		RelayerURL: a.cfg.Relayer.URL,
		Domain: metatx.Domain{
			Name:              a.cfg.Chain.ForwarderName,
			ChainID:           a.cfg.Chain.ChainID,
			VerifyingContract: forwarder.Hex(),
		},
		Contracts:   contracts,
		Timeout:     a.cfg.Relayer.Timeout,
		DeadlineTTL: a.cfg.Relayer.DeadlineTTL,
	}, a.logger), nil
}

func (a *app) store() *contentstore.Client {
	return contentstore.NewClient(contentstore.Options{
		BaseURL:          a.cfg.Store.URL,
		GatewayURL:       a.cfg.Store.GatewayURL,
		Token:            a.cfg.Store.Token,
		Timeout:          a.cfg.Store.Timeout,
		MaxEnvelopeBytes: a.cfg.Store.MaxEnvelopeBytes,
	}, a.logger)
}

func (a *app) recordCodec() (*codec.Codec, error) {
	return codec.New(codec.Options{
		Salt:       a.cfg.Crypto.Salt,
		Secret:     a.cfg.Crypto.Secret,
		Iterations: a.cfg.Crypto.Iterations,
	})
}

// recordService 组装完整的提交 / 取回链路
func (a *app) recordService(ctx context.Context) (*records.Service, error) {
	c, err := a.recordCodec()
	if err != nil {
		return nil, err
	}
	mt, err := a.relayClient()
	if err != nil {
		return nil, err
	}
	gw, err := a.gateway(ctx, false)
	if err != nil {
		return nil, err
	}
	return records.NewService(c, a.store(), mt, gw, a.logger), nil
}
