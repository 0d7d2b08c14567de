package mm

// The virtual address layout shared by the kernel and every environment.
//
//	ULIM, MMIOBASE -->  +------------------------------+ 0xef800000
//	                    |  Cur. Page Table (User R-)   |
//	    UVPT      ---->  +------------------------------+ 0xef400000
//	                    |          RO PAGES            |
//	    UPAGES    ---->  +------------------------------+ 0xef000000
//	                    |           RO ENVS            |
//	UTOP,UENVS ------>  +------------------------------+ 0xeec00000
//	UXSTACKTOP -/       |     User Exception Stack     | RW/RW
//	                    +------------------------------+ 0xeebff000
//	                    |       Empty Memory (*)       |
//	USTACKTOP  --->     +------------------------------+ 0xeebfe000
//	                    |      Normal User Stack       | RW/RW
//	                    +------------------------------+ 0xeebfd000
//	                    ~              ...             ~
//	UTEXT -------->     +------------------------------+ 0x00800000
//	PFTEMP ------->     |       Empty Memory (*)       |
//	                    |                              |
//	UTEMP -------->     +------------------------------+ 0x00400000
//	                    |       Empty Memory (*)       |
//	0 ------------>     +------------------------------+
const (
	// ULIM is the highest user-readable address.
	ULIM = uintptr(0xef800000)

	// UVPT is where the kernel exposes a read-only view of the current
	// environment's page tables. Page number N of the address space has its
	// entry at UVPT + N*4.
	UVPT = ULIM - PTSize

	// UVPD is the read-only view of the current page directory. It falls
	// out of the recursive mapping at UVPT.
	UVPD = UVPT + (UVPT>>PageShift)<<PointerShift

	// UPAGES holds the read-only copy of the physical page descriptors.
	UPAGES = UVPT - PTSize

	// UENVS holds the read-only copy of the environment table.
	UENVS = UPAGES - PTSize

	// UTOP is the top of the user-writable part of the address space.
	// Syscalls refuse to map anything at or above it.
	UTOP = UENVS

	// UXSTACKTOP is the top of the one-page user exception stack.
	UXSTACKTOP = UTOP

	// USTACKTOP is the top of the normal user stack. The page between
	// USTACKTOP and the exception stack is left unmapped as a guard.
	USTACKTOP = UTOP - 2*PageSize

	// UTEXT is where user programs are loaded.
	UTEXT = 2 * PTSize

	// UTEMP is a scratch region used by user programs.
	UTEMP = PTSize

	// PFTEMP is the scratch slot the copy-on-write fault handler stages a
	// fresh page at before moving it over the faulting page.
	PFTEMP = UTEMP + PTSize - PageSize
)
