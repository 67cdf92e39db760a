// medvault-cli 运维 / 联调命令行：提交与取回病历、授权管理、医院注册
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
