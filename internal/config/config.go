package config

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// ErrInvalidConfig 配置缺失或非法（费率、阈值等业务参数必须显式配置）
var ErrInvalidConfig = errors.New("配置不合法")

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	StatementEvents string `mapstructure:"statement_events"`
	PaymentEvents   string `mapstructure:"payment_events"`
}

// BusinessConfig 信贷与钱包业务参数
// 金额单位一律为里亚尔（整数），比率为小数（0.02 = 2%）
type BusinessConfig struct {
	Credit  CreditConfig  `mapstructure:"credit"`
	Payment PaymentConfig `mapstructure:"payment"`

	MaxRetryCount int `mapstructure:"max_retry_count"`
}

type CreditConfig struct {
	GracePeriodDays          int     `mapstructure:"grace_period_days"`           // 默认宽限期（天），可被用户级配置覆盖
	MonthlyInterestRate      float64 `mapstructure:"monthly_interest_rate"`       // 月息，结转负债时计提
	MinimumPaymentPercentage float64 `mapstructure:"minimum_payment_percentage"`  // 最低还款比例
	MinimumPaymentThreshold  int64   `mapstructure:"minimum_payment_threshold"`   // 低于该负债不要求最低还款
	PenaltyRate              float64 `mapstructure:"penalty_rate"`                // 逾期罚息日利率
	MaxPenaltyRate           float64 `mapstructure:"max_penalty_rate"`            // 罚息上限（占负债比例）
	InstallmentPenaltyRate   float64 `mapstructure:"installment_penalty_rate"`    // 分期逾期日罚率
	LimitExpiryDays          int     `mapstructure:"limit_expiry_days"`           // 授信默认有效期（天）
}

type PaymentConfig struct {
	RequestExpiryMinutes         int `mapstructure:"request_expiry_minutes"`          // 支付请求 CREATED 阶段有效期
	MerchantConfirmWindowMinutes int `mapstructure:"merchant_confirm_window_minutes"` // 商户确认窗口
	TransferExpiryMinutes        int `mapstructure:"transfer_expiry_minutes"`         // 转账请求有效期
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	if err := config.Validate(); err != nil {
		log.Fatalf("校验配置失败: %v", err)
	}

	GlobalConfig = config
	return config
}

// Validate 校验业务参数
// 费率与阈值不允许缺省为零值，防止静默地按 0 计息/计罚
func (c *Config) Validate() error {
	credit := c.Business.Credit
	if credit.MonthlyInterestRate <= 0 || credit.MonthlyInterestRate >= 1 {
		return fmt.Errorf("%w: monthly_interest_rate=%v", ErrInvalidConfig, credit.MonthlyInterestRate)
	}
	if credit.MinimumPaymentPercentage <= 0 || credit.MinimumPaymentPercentage >= 1 {
		return fmt.Errorf("%w: minimum_payment_percentage=%v", ErrInvalidConfig, credit.MinimumPaymentPercentage)
	}
	if credit.MinimumPaymentThreshold <= 0 {
		return fmt.Errorf("%w: minimum_payment_threshold=%d", ErrInvalidConfig, credit.MinimumPaymentThreshold)
	}
	if credit.PenaltyRate <= 0 || credit.MaxPenaltyRate <= 0 || credit.PenaltyRate > credit.MaxPenaltyRate {
		return fmt.Errorf("%w: penalty_rate=%v max_penalty_rate=%v", ErrInvalidConfig, credit.PenaltyRate, credit.MaxPenaltyRate)
	}
	if credit.GracePeriodDays <= 0 {
		return fmt.Errorf("%w: grace_period_days=%d", ErrInvalidConfig, credit.GracePeriodDays)
	}
	if c.Business.Payment.RequestExpiryMinutes <= 0 {
		return fmt.Errorf("%w: request_expiry_minutes=%d", ErrInvalidConfig, c.Business.Payment.RequestExpiryMinutes)
	}
	if c.Business.MaxRetryCount <= 0 {
		return fmt.Errorf("%w: max_retry_count=%d", ErrInvalidConfig, c.Business.MaxRetryCount)
	}
	return nil
}

// DefaultBusinessConfig 测试与本地运行使用的缺省业务参数
func DefaultBusinessConfig() BusinessConfig {
	return BusinessConfig{
		Credit: CreditConfig{
			GracePeriodDays:          5,
			MonthlyInterestRate:      0.02,
			MinimumPaymentPercentage: 0.10,
			MinimumPaymentThreshold:  100000,
			PenaltyRate:              0.02,
			MaxPenaltyRate:           0.20,
			InstallmentPenaltyRate:   0.005,
			LimitExpiryDays:          365,
		},
		Payment: PaymentConfig{
			RequestExpiryMinutes:         15,
			MerchantConfirmWindowMinutes: 15,
			TransferExpiryMinutes:        60,
		},
		MaxRetryCount: 3,
	}
}
