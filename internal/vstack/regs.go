package vstack

import (
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// x86_32ScratchRegs and x86_64ScratchRegs list the general-purpose
// registers spec.md §4.4 step 4 says to pre-load with a mid-stack address
// on x86, so that a function reading an uninitialized-looking register as
// a pointer dereferences mapped memory instead of faulting immediately.
// Segment and flags registers are intentionally excluded.
func x86_32ScratchRegs() []int {
	return []int{
		uc.X86_REG_EAX, uc.X86_REG_EBX, uc.X86_REG_ECX, uc.X86_REG_EDX,
		uc.X86_REG_ESI, uc.X86_REG_EDI, uc.X86_REG_EBP,
	}
}

func x86_64ScratchRegs() []int {
	return []int{
		uc.X86_REG_RAX, uc.X86_REG_RBX, uc.X86_REG_RCX, uc.X86_REG_RDX,
		uc.X86_REG_RSI, uc.X86_REG_RDI, uc.X86_REG_RBP,
		uc.X86_REG_R8, uc.X86_REG_R9, uc.X86_REG_R10, uc.X86_REG_R11,
		uc.X86_REG_R12, uc.X86_REG_R13, uc.X86_REG_R14, uc.X86_REG_R15,
	}
}
